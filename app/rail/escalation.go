package rail

import (
	"context"

	"github.com/vibast-solutions/ms-go-collections/app/collection"
)

// SameDayEscalationPolicy gates the debit-then-same-day-ACH fallback.
// Escalation is denied when the debit failure was an insufficient-funds
// decline, when the failure is an unrecognized processor error, or when a
// high-risk trigger fired with the balance under the risk threshold.
// A freshly reconnected or manually refreshed account does not get hit on
// a second rail when the first rail's failure reason is ambiguous or
// punitive.
func SameDayEscalationPolicy(trigger collection.Trigger, balanceCents, riskThresholdCents int64) EscalationFunc {
	return func(_ context.Context, err error) (bool, error) {
		decline := AsDecline(err)
		if decline == nil {
			return false, nil
		}
		if decline.InsufficientFunds() {
			return false, nil
		}
		if trigger.HighRisk() && balanceCents < riskThresholdCents {
			return false, nil
		}
		return true, nil
	}
}

// NextDayEscalationPolicy gates the debit-then-next-day-ACH fallback. The
// next-day balance floor was already checked, so classified declines
// escalate to the bank rail; unrecognized processor errors do not.
func NextDayEscalationPolicy() EscalationFunc {
	return func(_ context.Context, err error) (bool, error) {
		return AsDecline(err) != nil, nil
	}
}

// ForcedACHEscalationPolicy backs the high-balance forced-ACH strategy:
// any ACH failure falls through to the debit rail.
func ForcedACHEscalationPolicy() EscalationFunc {
	return func(context.Context, error) (bool, error) {
		return true, nil
	}
}
