package billing

// Outcome is the closed set of ways a verified event can be disposed of.
// Ledger failures are not an Outcome; they surface as the error return from
// Service.Process so the handler can answer with a retryable failure status.
type Outcome string

const (
	// OutcomeGranted means the ledger applied the credit for the first time.
	OutcomeGranted Outcome = "granted"
	// OutcomeAlreadyProcessed means an idempotency record existed; the
	// common, expected path on provider redelivery.
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomeIgnored means the event type or mode is not handled here.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeMetadataInvalid means the event is permanently unprocessable:
	// required metadata is absent or does not parse. Acknowledged so the
	// provider stops redelivering; flagged in logs for manual reconciliation.
	OutcomeMetadataInvalid Outcome = "metadata_invalid"
)

// Result describes the disposition of one processed event, with enough
// identifiers attached to audit every credit grant.
type Result struct {
	Outcome          Outcome
	EventID          string
	EventType        string
	SessionID        string
	CaregiverID      string
	PackLabel        string
	Minutes          int
	MinutesRemaining int64
	Reason           string
}
