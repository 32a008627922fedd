package rail

import (
	"context"
	"time"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

// ExternalPayment is the processor-side result of invoking a rail. It is
// immutable once returned; the orchestrator mirrors it onto the local
// payment record.
type ExternalPayment struct {
	ExternalID  string
	Processor   string
	RailType    int32
	AmountCents int64
	Status      int32
}

// Chargeable is a single charge operation bound to one instrument. A
// fallback-composed pair of rails satisfies the same interface.
type Chargeable interface {
	RailType() int32
	Charge(ctx context.Context, amountCents int64, referenceID string, at time.Time) (*ExternalPayment, error)
}

func parseExternalStatus(status string) int32 {
	switch status {
	case "pending", "processing":
		return entity.PaymentStatusPending
	case "completed", "settled":
		return entity.PaymentStatusCompleted
	case "canceled":
		return entity.PaymentStatusCanceled
	case "returned":
		return entity.PaymentStatusReturned
	default:
		return entity.PaymentStatusUnknown
	}
}
