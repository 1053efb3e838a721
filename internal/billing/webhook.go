package billing

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/care-credits/internal/common"
	"github.com/noah-isme/care-credits/internal/obs"
)

// Webhook ingests billing provider notifications: signature verification,
// envelope decoding, routing, and the exactly-once credit grant.
type Webhook struct {
	Provider     Provider
	Svc          *Service
	MaxBodyBytes int64
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Handle processes one inbound notification. Rejections (signature, decode)
// never reach the ledger; acknowledgements look identical whether work was
// performed or not; only ledger failures answer with a retryable status.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "webhook accepts POST only", nil)
		return
	}
	if h.Provider == nil || h.Svc == nil || h.Svc.Ledger == nil {
		common.JSONError(w, http.StatusInternalServerError, "BILLING_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}

	maxBytes := h.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	// Verification runs on the exact bytes received, before any parsing.
	if err := h.Provider.VerifySignature(body, r.Header.Get("Stripe-Signature"), now()); err != nil {
		h.Logger.Warn().Err(err).
			Str("body_sha256", common.Sha256Hex(body)).
			Msg("webhook signature rejected")
		h.count("unknown", "signature_rejected")
		common.JSONError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	evt, err := DecodeEvent(body)
	if err != nil {
		h.Logger.Warn().Err(err).
			Str("body_sha256", common.Sha256Hex(body)).
			Msg("webhook envelope rejected")
		h.count("unknown", "malformed")
		common.JSONError(w, http.StatusBadRequest, "MALFORMED_EVENT", "event envelope does not parse", nil)
		return
	}

	res, err := h.Svc.Process(r.Context(), evt)
	if err != nil {
		code := "LEDGER_ERROR"
		status := http.StatusInternalServerError
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			code = appErr.Code
			if appErr.HTTPStatus >= http.StatusInternalServerError {
				status = appErr.HTTPStatus
			}
		}
		h.Logger.Error().Err(err).
			Str("event_id", evt.ID).
			Str("event_type", evt.Type).
			Str("session_id", res.SessionID).
			Str("caregiver_id", res.CaregiverID).
			Msg("credit grant failed, provider will redeliver")
		h.count(evt.Type, "mutation_error")
		common.JSONError(w, status, code, "credit grant failed", nil)
		return
	}

	h.count(evt.Type, string(res.Outcome))
	h.audit(body, res)
	common.Received(w)
}

// audit writes the log line every credit decision must leave behind.
func (h Webhook) audit(body []byte, res Result) {
	evt := h.Logger.Info().
		Str("event_id", res.EventID).
		Str("event_type", res.EventType).
		Str("session_id", res.SessionID).
		Str("outcome", string(res.Outcome)).
		Str("body_sha256", common.Sha256Hex(body))
	if res.CaregiverID != "" {
		evt = evt.Str("caregiver_id", res.CaregiverID)
	}
	if res.Reason != "" {
		evt = evt.Str("reason", res.Reason)
	}
	if res.Outcome == OutcomeGranted {
		evt = evt.
			Str("grant_id", uuid.NewString()).
			Str("pack_label", res.PackLabel).
			Int("minutes", res.Minutes).
			Int64("minutes_remaining", res.MinutesRemaining)
	}
	evt.Msg("billing_webhook")
}

func (h Webhook) count(eventType, result string) {
	if obs.BillingWebhookTotal != nil {
		obs.BillingWebhookTotal.WithLabelValues(eventType, result).Inc()
	}
}
