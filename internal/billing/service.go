package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/care-credits/internal/ledger"
	"github.com/noah-isme/care-credits/internal/obs"
)

// LedgerStore is the single atomic operation the pipeline needs from the
// external ledger. The implementation must insert the idempotency record and
// increment the balance in one transaction; a separate check-then-apply pair
// would reintroduce the duplicate-delivery race this service exists to
// prevent.
type LedgerStore interface {
	AddCredits(ctx context.Context, p ledger.GrantParams) (ledger.Grant, error)
}

// Service routes verified events and applies credit grants.
type Service struct {
	Ledger   LedgerStore
	Validate *validator.Validate
}

// checkoutMetadata is the shape the checkout flow stashes on each session.
// Values arrive as strings; numeric fields are parsed before validation.
type checkoutMetadata struct {
	CaregiverID string `validate:"required"`
	Minutes     int    `validate:"required,gt=0"`
	PriceCents  int    `validate:"gte=0"`
	PackLabel   string
}

// Process disposes of one verified event. A non-nil error means the ledger
// mutation failed and the request must answer with a failure status so the
// provider redelivers; every other disposition is expressed in the Result.
func (s *Service) Process(ctx context.Context, evt Event) (Result, error) {
	res := Result{EventID: evt.ID, EventType: evt.Type}
	if s == nil || s.Ledger == nil {
		return res, errors.New("billing service not configured")
	}

	ctx, span := otel.Tracer("billing.Service").Start(ctx, "BillingService.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("billing.event_id", evt.ID),
		attribute.String("billing.event_type", evt.Type),
	)
	defer func() {
		span.SetAttributes(attribute.String("billing.outcome", string(res.Outcome)))
	}()

	// The provider sends many event types unrelated to credit purchases;
	// all of them must be acknowledged so it stops retrying.
	if evt.Type != EventCheckoutCompleted {
		res.Outcome = OutcomeIgnored
		res.Reason = "unhandled event type"
		return res, nil
	}

	var session CheckoutObject
	if err := json.Unmarshal(evt.Data.Object, &session); err != nil {
		res.Outcome = OutcomeMetadataInvalid
		res.Reason = "checkout object does not parse: " + err.Error()
		return res, nil
	}
	res.SessionID = session.ID

	if session.Mode != ModePayment {
		res.Outcome = OutcomeIgnored
		res.Reason = "mode " + session.Mode + " not handled"
		return res, nil
	}
	if strings.TrimSpace(session.ID) == "" {
		res.Outcome = OutcomeMetadataInvalid
		res.Reason = "session id missing"
		return res, nil
	}

	meta, err := parseMetadata(session.Metadata)
	if err == nil && s.Validate != nil {
		err = s.Validate.Struct(meta)
	}
	if err != nil {
		res.Outcome = OutcomeMetadataInvalid
		res.Reason = err.Error()
		return res, nil
	}
	res.CaregiverID = meta.CaregiverID
	res.PackLabel = meta.PackLabel
	res.Minutes = meta.Minutes

	// The grant must be allowed to commit even if the provider hangs up
	// before the response is written.
	grant, err := s.Ledger.AddCredits(context.WithoutCancel(ctx), ledger.GrantParams{
		CaregiverID:     meta.CaregiverID,
		Minutes:         meta.Minutes,
		PriceCents:      meta.PriceCents,
		PackLabel:       meta.PackLabel,
		SessionID:       session.ID,
		PaymentIntentID: session.PaymentIntent,
	})
	if err != nil {
		span.RecordError(err)
		return res, err
	}

	res.MinutesRemaining = grant.MinutesRemaining
	if grant.AlreadyGranted {
		res.Outcome = OutcomeAlreadyProcessed
		return res, nil
	}
	res.Outcome = OutcomeGranted
	if obs.CreditGrantTotal != nil {
		label := strings.TrimSpace(strings.ToLower(meta.PackLabel))
		if label == "" {
			label = "unknown"
		}
		obs.CreditGrantTotal.WithLabelValues(label).Inc()
	}
	return res, nil
}

func parseMetadata(values map[string]string) (checkoutMetadata, error) {
	meta := checkoutMetadata{
		CaregiverID: strings.TrimSpace(values["caregiver_id"]),
		PackLabel:   strings.TrimSpace(values["pack_label"]),
	}
	if raw, ok := values["pack_minutes"]; ok {
		minutes, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return meta, errors.New("pack_minutes is not numeric")
		}
		meta.Minutes = minutes
	}
	if raw, ok := values["pack_price_cents"]; ok {
		cents, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return meta, errors.New("pack_price_cents is not numeric")
		}
		meta.PriceCents = cents
	}
	return meta, nil
}
