package billing_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/care-credits/internal/billing"
	"github.com/noah-isme/care-credits/internal/common"
	"github.com/noah-isme/care-credits/internal/ledger"
)

const testWebhookSecret = "whsec_test"

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeLedger struct {
	mu       sync.Mutex
	sessions map[string]bool
	balances map[string]int64
	failures int
	calls    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{sessions: map[string]bool{}, balances: map[string]int64{}}
}

func (f *fakeLedger) AddCredits(ctx context.Context, p ledger.GrantParams) (ledger.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := ctx.Err(); err != nil {
		return ledger.Grant{}, err
	}
	if f.failures > 0 {
		f.failures--
		return ledger.Grant{}, common.NewAppError("LEDGER_UNAVAILABLE", "ledger unavailable", http.StatusInternalServerError, nil)
	}
	if f.sessions[p.SessionID] {
		return ledger.Grant{MinutesRemaining: f.balances[p.CaregiverID], AlreadyGranted: true}, nil
	}
	f.sessions[p.SessionID] = true
	f.balances[p.CaregiverID] += int64(p.Minutes)
	return ledger.Grant{MinutesRemaining: f.balances[p.CaregiverID]}, nil
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newWebhook(store billing.LedgerStore) billing.Webhook {
	return billing.Webhook{
		Provider: billing.Stripe{
			WebhookSecret: testWebhookSecret,
			Tolerance:     5 * time.Minute,
		},
		Svc:    &billing.Service{Ledger: store, Validate: validator.New()},
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return testNow },
	}
}

func signatureHeader(secret string, body []byte, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.", at.Unix())
	_, _ = mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func signedRequest(body []byte, at time.Time) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", signatureHeader(testWebhookSecret, body, at))
	return req
}

func checkoutEvent(eventID, sessionID, mode string, metadata map[string]string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":   eventID,
		"type": "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"id":             sessionID,
				"mode":           mode,
				"payment_intent": "pi_500",
				"metadata":       metadata,
			},
		},
	})
	return body
}

func validMetadata() map[string]string {
	return map[string]string{
		"caregiver_id":     "cg_1",
		"pack_minutes":     "60",
		"pack_price_cents": "1500",
		"pack_label":       "Starter 60",
	}
}

func requireReceived(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.True(t, body["received"])
}

func TestWebhookGrantsExactlyOnceOnRedelivery(t *testing.T) {
	t.Parallel()

	store := newFakeLedger()
	wh := newWebhook(store)
	body := checkoutEvent("evt_1", "cs_123", billing.ModePayment, validMetadata())

	rr := httptest.NewRecorder()
	wh.Handle(rr, signedRequest(body, testNow))
	requireReceived(t, rr)
	require.Equal(t, int64(60), store.balances["cg_1"])

	// redelivery of the same session must be an acknowledged no-op
	rr2 := httptest.NewRecorder()
	wh.Handle(rr2, signedRequest(body, testNow.Add(time.Minute)))
	requireReceived(t, rr2)
	require.Equal(t, int64(60), store.balances["cg_1"])
	require.Equal(t, 2, store.callCount())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	store := newFakeLedger()
	wh := newWebhook(store)
	body := checkoutEvent("evt_1", "cs_123", billing.ModePayment, validMetadata())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", signatureHeader("whsec_other", body, testNow))
	rr := httptest.NewRecorder()
	wh.Handle(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Zero(t, store.callCount())
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	t.Parallel()

	store := newFakeLedger()
	wh := newWebhook(store)
	body := checkoutEvent("evt_1", "cs_123", billing.ModePayment, validMetadata())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing/stripe", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	wh.Handle(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Zero(t, store.callCount())
}

func TestWebhookRejectsStaleTimestamp(t *testing.T) {
	t.Parallel()

	store := newFakeLedger()
	wh := newWebhook(store)
	body := checkoutEvent("evt_1", "cs_123", billing.ModePayment, validMetadata())

	// correctly signed but ten minutes old against a five minute tolerance
	rr := httptest.NewRecorder()
	wh.Handle(rr, signedRequest(body, testNow.Add(-10*time.Minute)))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Zero(t, store.callCount())
}

func TestWebhookIgnoresUnhandledEventTypes(t *testing.T) {
	t.Parallel()

	store := newFakeLedger()
	wh := newWebhook(store)
	body, _ := json.Marshal(map[string]any{
		"id":   "evt_2",
		"type": "invoice.paid",
		"data": map[string]any{"object": map[string]any{"id": "in_1"}},
	})

	rr := httptest.NewRecorder()
	wh.Handle(rr, signedRequest(body, testNow))
	requireReceived(t, rr)
	require.Zero(t, store.callCount())
}

func TestWebhookIgnoresSubscriptionMode(t *testing.T) {
	t.Parallel()

	store := newFakeLedger()
	wh := newWebhook(store)
	body := checkoutEvent("evt_3", "cs_sub", billing.ModeSubscription, validMetadata())

	rr := httptest.NewRecorder()
	wh.Handle(rr, signedRequest(body, testNow))
	requireReceived(t, rr)
	require.Zero(t, store.callCount())
}

func TestWebhookAcksInvalidMetadata(t *testing.T) {
	t.Parallel()

	cases := map[string]map[string]string{
		"missing caregiver": {
			"pack_minutes": "60",
		},
		"non-numeric minutes": {
			"caregiver_id": "cg_1",
			"pack_minutes": "sixty",
		},
		"zero minutes": {
			"caregiver_id": "cg_1",
			"pack_minutes": "0",
		},
	}
	for name, metadata := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store := newFakeLedger()
			wh := newWebhook(store)
			body := checkoutEvent("evt_4", "cs_bad", billing.ModePayment, metadata)

			rr := httptest.NewRecorder()
			wh.Handle(rr, signedRequest(body, testNow))
			requireReceived(t, rr)
			require.Zero(t, store.callCount())
		})
	}
}

func TestWebhookRejectsMalformedEnvelope(t *testing.T) {
	t.Parallel()

	store := newFakeLedger()
	wh := newWebhook(store)
	body := []byte(`{"type":"checkout.session.completed"}`)

	rr := httptest.NewRecorder()
	wh.Handle(rr, signedRequest(body, testNow))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Zero(t, store.callCount())
}

func TestWebhookMisconfigured(t *testing.T) {
	t.Parallel()

	wh := billing.Webhook{Logger: zerolog.Nop()}
	body := checkoutEvent("evt_5", "cs_123", billing.ModePayment, validMetadata())

	rr := httptest.NewRecorder()
	wh.Handle(rr, signedRequest(body, testNow))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	t.Parallel()

	wh := newWebhook(newFakeLedger())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/billing/stripe", nil)
	rr := httptest.NewRecorder()
	wh.Handle(rr, req)

	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestWebhookConcurrentSameSession(t *testing.T) {
	t.Parallel()

	store := newFakeLedger()
	wh := newWebhook(store)
	body := checkoutEvent("evt_6", "cs_123", billing.ModePayment, validMetadata())

	var wg sync.WaitGroup
	recorders := make([]*httptest.ResponseRecorder, 2)
	for i := range recorders {
		recorders[i] = httptest.NewRecorder()
		wg.Add(1)
		go func(rr *httptest.ResponseRecorder) {
			defer wg.Done()
			wh.Handle(rr, signedRequest(body, testNow))
		}(recorders[i])
	}
	wg.Wait()

	for _, rr := range recorders {
		requireReceived(t, rr)
	}
	require.Equal(t, int64(60), store.balances["cg_1"])
	require.Equal(t, 2, store.callCount())
}

func TestWebhookLedgerOutageThenRetry(t *testing.T) {
	t.Parallel()

	store := newFakeLedger()
	store.failures = 1
	wh := newWebhook(store)
	body := checkoutEvent("evt_7", "cs_retry", billing.ModePayment, validMetadata())

	rr := httptest.NewRecorder()
	wh.Handle(rr, signedRequest(body, testNow))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "LEDGER_UNAVAILABLE")
	require.Zero(t, store.balances["cg_1"])

	// the provider redelivers after the store recovers
	rr2 := httptest.NewRecorder()
	wh.Handle(rr2, signedRequest(body, testNow.Add(time.Minute)))
	requireReceived(t, rr2)
	require.Equal(t, int64(60), store.balances["cg_1"])
}
