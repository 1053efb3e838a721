package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/care-credits/internal/common"
)

// Stripe implements the Provider interface against the Stripe Checkout and
// webhook surfaces.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Tolerance     time.Duration
	HTTP          HTTPDoer
}

// HTTPDoer is satisfied by resilience.HTTPClient.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// signedHeader is the parsed form of a Stripe-Signature header:
// "t=<unix>,v1=<hex hmac>[,v1=...]".
type signedHeader struct {
	timestamp  time.Time
	signatures [][]byte
}

// VerifySignature checks that the raw body was produced by the provider and
// is fresh. The expected signature is HMAC-SHA256 over "<t>.<body>" keyed
// with the webhook secret, where body is the exact bytes received; verifying
// anything re-serialised is a correctness bug because signatures are
// body-content-sensitive. Timestamps older than the tolerance window are
// rejected to stop replays.
func (s Stripe) VerifySignature(body []byte, header string, now time.Time) error {
	if strings.TrimSpace(s.WebhookSecret) == "" {
		return errors.New("webhook secret not configured")
	}
	parsed, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	if now.Sub(parsed.timestamp) > tolerance {
		return fmt.Errorf("signature timestamp %d outside tolerance", parsed.timestamp.Unix())
	}

	mac := hmac.New(sha256.New, []byte(s.WebhookSecret))
	_, _ = mac.Write([]byte(strconv.FormatInt(parsed.timestamp.Unix(), 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	for _, sig := range parsed.signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return errors.New("signature mismatch")
}

func parseSignatureHeader(header string) (signedHeader, error) {
	var out signedHeader
	if strings.TrimSpace(header) == "" {
		return out, errors.New("missing signature header")
	}
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			unix, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return out, fmt.Errorf("malformed signature timestamp: %w", err)
			}
			out.timestamp = time.Unix(unix, 0)
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				return out, fmt.Errorf("malformed signature value: %w", err)
			}
			out.signatures = append(out.signatures, sig)
		}
	}
	if out.timestamp.IsZero() {
		return out, errors.New("signature header missing timestamp")
	}
	if len(out.signatures) == 0 {
		return out, errors.New("signature header missing v1 signature")
	}
	return out, nil
}

// CreateCheckout opens a hosted checkout session carrying the pack metadata
// the webhook pipeline later consumes.
func (s Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutIntent, error) {
	var zero CheckoutIntent
	if strings.TrimSpace(s.SecretKey) == "" {
		return zero, common.NewAppError("PAYMENT_NOT_CONFIGURED", "provider secret key not configured", http.StatusInternalServerError, nil)
	}
	if s.HTTP == nil {
		return zero, common.NewAppError("PAYMENT_NOT_CONFIGURED", "provider http client not configured", http.StatusInternalServerError, nil)
	}
	if strings.TrimSpace(req.CaregiverID) == "" {
		return zero, errors.New("caregiver id is required")
	}

	form := url.Values{}
	form.Set("mode", ModePayment)
	form.Set("client_reference_id", req.CaregiverID)
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", req.Currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.Itoa(req.Pack.PriceCents))
	form.Set("line_items[0][price_data][product_data][name]", req.Pack.Label)
	form.Set("metadata[caregiver_id]", req.CaregiverID)
	form.Set("metadata[pack_minutes]", strconv.Itoa(req.Pack.Minutes))
	form.Set("metadata[pack_price_cents]", strconv.Itoa(req.Pack.PriceCents))
	form.Set("metadata[pack_label]", req.Pack.Label)

	host := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if host == "" {
		host = "https://api.stripe.com"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return zero, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+s.SecretKey)

	resp, err := s.HTTP.Do(ctx, httpReq)
	if err != nil {
		return zero, fmt.Errorf("create checkout session: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(detail, &apiErr) == nil && apiErr.Error.Message != "" {
			return zero, common.NewAppError("CHECKOUT_FAILED", "create checkout session: "+apiErr.Error.Message, http.StatusBadGateway, nil)
		}
		return zero, common.NewAppError("CHECKOUT_FAILED", "create checkout session: "+resp.Status, http.StatusBadGateway, nil)
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return zero, fmt.Errorf("decode checkout session: %w", err)
	}
	if session.ID == "" {
		return zero, errors.New("provider returned empty session id")
	}
	return CheckoutIntent{SessionID: session.ID, RedirectURL: session.URL}, nil
}
