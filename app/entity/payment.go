package entity

import "time"

const (
	RailTypeDebit int32 = 1
	RailTypeACH   int32 = 2
)

const (
	PaymentStatusPending   int32 = 1
	PaymentStatusCompleted int32 = 10
	PaymentStatusCanceled  int32 = 20
	PaymentStatusReturned  int32 = 30
	PaymentStatusUnknown   int32 = 90
)

// Payment is the local mirror of an external processor payment. It is
// created as a pending placeholder before the rail is invoked and updated
// with the external result afterwards.
type Payment struct {
	ID uint64

	UserID       uint64
	ObligationID uint64

	// ReferenceID is sent to the processor as the idempotency key for
	// the external charge.
	ReferenceID string

	RailType    int32
	AmountCents int64
	Status      int32

	ExternalID  *string
	Processor   *string
	DeclineCode *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
