package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Recognised checkout session modes.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
	ModeSetup        = "setup"
)

// EventCheckoutCompleted is the only event type this pipeline acts on.
const EventCheckoutCompleted = "checkout.session.completed"

// Event is the provider's outer notification envelope. It is only ever
// constructed from bytes whose signature has already been verified.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutObject is the inner payload of a checkout.session event. Field
// validation is deferred to the processing stage because other event types
// carry different shapes.
type CheckoutObject struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

// DecodeEvent parses the outer envelope of a verified payload. A missing id
// or type is a decode error; inner event-specific fields are not checked
// here.
func DecodeEvent(payload []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Event{}, fmt.Errorf("parse event envelope: %w", err)
	}
	if strings.TrimSpace(evt.ID) == "" {
		return Event{}, errors.New("event envelope missing id")
	}
	if strings.TrimSpace(evt.Type) == "" {
		return Event{}, errors.New("event envelope missing type")
	}
	return evt, nil
}
