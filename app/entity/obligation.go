package entity

import "time"

const (
	ObligationKindSubscription int32 = 1
	ObligationKindAdvance      int32 = 2
)

type Obligation struct {
	ID     uint64
	UserID uint64
	Kind   int32

	AmountCents      int64
	OutstandingCents int64

	DueAt     time.Time
	Paid      bool
	PaymentID *uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CollectibleCents is the amount a collection attempt should charge:
// the remaining outstanding balance for advances, the full bill amount
// for subscriptions.
func (o *Obligation) CollectibleCents() int64 {
	if o.Kind == ObligationKindAdvance {
		return o.OutstandingCents
	}
	return o.AmountCents
}
