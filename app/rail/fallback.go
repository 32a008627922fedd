package rail

import (
	"context"
	"time"
)

// EscalationFunc decides whether a failure on the first rail justifies
// attempting the second.
type EscalationFunc func(ctx context.Context, err error) (bool, error)

// Fallback chains two chargeables: it runs first, and on failure consults
// shouldEscalate. When escalation is allowed the second rail runs and its
// result is returned; when denied the first rail's error is returned
// unwrapped so callers can still classify it.
type Fallback struct {
	first          Chargeable
	second         Chargeable
	shouldEscalate EscalationFunc
}

func NewFallback(first, second Chargeable, shouldEscalate EscalationFunc) *Fallback {
	return &Fallback{first: first, second: second, shouldEscalate: shouldEscalate}
}

func (f *Fallback) RailType() int32 {
	return f.first.RailType()
}

func (f *Fallback) Charge(ctx context.Context, amountCents int64, referenceID string, at time.Time) (*ExternalPayment, error) {
	out, err := f.first.Charge(ctx, amountCents, referenceID, at)
	if err == nil {
		return out, nil
	}

	escalate, escErr := f.shouldEscalate(ctx, err)
	if escErr != nil || !escalate {
		return nil, err
	}

	return f.second.Charge(ctx, amountCents, referenceID, at)
}
