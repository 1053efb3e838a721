package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/care-credits/internal/common"
	"github.com/noah-isme/care-credits/internal/obs"
	"github.com/noah-isme/care-credits/internal/resilience"
)

// GrantSource identifies the billing provider on every ledger row.
const GrantSource = "stripe"

// GrantParams carries one credit grant request to the ledger store.
type GrantParams struct {
	CaregiverID     string
	Minutes         int
	PriceCents      int
	PackLabel       string
	SessionID       string
	PaymentIntentID string
}

// Grant is the ledger store's answer to an add_credits call. AlreadyGranted
// means an idempotency record existed for the session and no balance change
// occurred.
type Grant struct {
	MinutesRemaining int64 `json:"minutes_remaining"`
	AlreadyGranted   bool  `json:"already_granted"`
}

// Client speaks to the external ledger store over its PostgREST RPC surface.
// The store owns both the idempotency records and the balances; the
// add_credits function checks the session key and applies the delta in a
// single transaction, so the client never issues a separate lookup.
type Client struct {
	BaseURL    string
	ServiceKey string
	HTTP       resilience.HTTPClient
}

// NewClient builds a ledger client. The webhook pipeline must not retry the
// mutation itself, so attempts are pinned to one; the breaker still sheds
// load during an outage.
func NewClient(baseURL, serviceKey string, timeout time.Duration, breaker *resilience.Breaker) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ServiceKey: serviceKey,
		HTTP: resilience.HTTPClient{
			Client: &http.Client{
				Timeout:   timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			Breaker:     breaker,
			MaxAttempts: 1,
		},
	}
}

type addCreditsReq struct {
	CaregiverID     string  `json:"p_caregiver_id"`
	Minutes         int     `json:"p_minutes"`
	PriceCents      int     `json:"p_price_cents"`
	PackLabel       string  `json:"p_pack_label"`
	Source          string  `json:"p_source"`
	SessionID       string  `json:"p_session_id"`
	PaymentIntentID *string `json:"p_payment_intent_id"`
}

// AddCredits invokes the atomic add_credits RPC. Any transport failure or
// non-2xx response is a mutation error and must bubble up as a request
// failure so the provider redelivers the notification.
func (c *Client) AddCredits(ctx context.Context, p GrantParams) (Grant, error) {
	var zero Grant
	if c == nil || c.BaseURL == "" || c.ServiceKey == "" {
		return zero, common.NewAppError("LEDGER_NOT_CONFIGURED", "ledger client not configured", http.StatusInternalServerError, nil)
	}
	ctx, span := otel.Tracer("ledger.Client").Start(ctx, "Ledger.AddCredits")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.session_id", p.SessionID),
		attribute.Int("ledger.minutes", p.Minutes),
	)

	start := time.Now()
	result := "error"
	defer func() {
		if obs.LedgerRequestDuration != nil {
			obs.LedgerRequestDuration.WithLabelValues("add_credits", result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	reqBody := addCreditsReq{
		CaregiverID: p.CaregiverID,
		Minutes:     p.Minutes,
		PriceCents:  p.PriceCents,
		PackLabel:   p.PackLabel,
		Source:      GrantSource,
		SessionID:   p.SessionID,
	}
	if intent := strings.TrimSpace(p.PaymentIntentID); intent != "" {
		reqBody.PaymentIntentID = &intent
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return zero, fmt.Errorf("encode add_credits request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/rest/v1/rpc/add_credits", bytes.NewReader(payload))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return zero, fmt.Errorf("ledger add_credits: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := common.NewAppError("LEDGER_UNAVAILABLE",
			fmt.Sprintf("ledger add_credits: %s: %s", resp.Status, strings.TrimSpace(string(detail))),
			http.StatusInternalServerError, nil)
		span.RecordError(err)
		return zero, err
	}

	var grant Grant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return zero, fmt.Errorf("decode add_credits response: %w", err)
	}
	if grant.AlreadyGranted {
		result = "already_granted"
	} else {
		result = "granted"
	}
	span.SetAttributes(attribute.Bool("ledger.already_granted", grant.AlreadyGranted))
	return grant, nil
}

// Ping probes the ledger store for readiness checks.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) error {
	if c == nil || c.BaseURL == "" {
		return errors.New("ledger client not configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/rest/v1/", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.HTTP.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ledger unavailable: %s", resp.Status)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("apikey", c.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+c.ServiceKey)
}
