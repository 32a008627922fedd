package entity

import "time"

const (
	AttemptOutcomePending int32 = 1
	AttemptOutcomeSuccess int32 = 10
	AttemptOutcomeFailure int32 = 20
)

// Failure reasons recorded on a collection attempt. One reason per
// orchestrator branch so they can be counted independently.
const (
	FailureReasonAlreadyPaid     = "already_paid"
	FailureReasonInProgress      = "in_progress"
	FailureReasonNoEligibleRail  = "no_eligible_rail"
	FailureReasonBalanceTooLow   = "balance_too_low"
	FailureReasonBalanceRefresh  = "balance_refresh_failed"
	FailureReasonChargeFailed    = "charge_failed"
	FailureReasonRecordingFailed = "charge_succeeded_recording_failed"
	FailureReasonPaymentCreate   = "payment_create_failed"
	FailureReasonOutsideWindow   = "outside_collection_window"
)

// CollectionAttempt is one guarded execution of the orchestrator against
// one obligation. Processing is 1 while the attempt is in flight and NULL
// once finished; a unique key on (obligation_id, processing) rejects a
// second concurrent attempt at creation time.
type CollectionAttempt struct {
	ID uint64

	ObligationID   uint64
	IdempotencyKey string

	Trigger    string
	Processing *int32

	Strategy  *string
	PaymentID *uint64

	Outcome       int32
	FailureReason *string
	Extra         map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}
