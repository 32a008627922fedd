package collection

import "time"

// Strategy is the transient outcome of rail selection. It is recorded on
// the collection attempt for observability but never persisted on its own.
type Strategy string

const (
	StrategyDebitForced         Strategy = "debit-forced"
	StrategyDebitOnly           Strategy = "debit-only"
	StrategyACHForced           Strategy = "ach-forced-debit-fallback"
	StrategyDebitThenACHNextDay Strategy = "debit-then-ach-next-day"
	StrategyDebitThenACHSameDay Strategy = "debit-then-ach-same-day"
	StrategyACHNextDay          Strategy = "ach-next-day"
	StrategyACHSameDay          Strategy = "ach-same-day"
)

type Decision struct {
	Strategy Strategy

	// Submission is set for strategies with an ACH leg.
	Submission int32
}

// HasACHLeg reports whether the decided strategy charges the bank account
// at any point.
func (d Decision) HasACHLeg() bool {
	return d.Submission != 0
}

type StrategyInputs struct {
	DebitAvailable bool
	ACHAvailable   bool
	BalanceCents   int64
	Trigger        Trigger
	DebitOnly      bool
	Now            time.Time
}

// SelectStrategy decides which rail or rail combination to attempt. First
// matching rule wins; the function is pure so the same inputs always yield
// the same decision.
func (p Policy) SelectStrategy(in StrategyInputs) (Decision, error) {
	if in.DebitOnly {
		if !in.DebitAvailable {
			return Decision{}, ErrDebitUnavailable
		}
		return Decision{Strategy: StrategyDebitForced}, nil
	}

	sameDay := p.SameDayEligible(in.Now)
	nextDay := in.ACHAvailable && p.NextDayEligible(in.Now, in.BalanceCents)

	// Forcing ACH needs a constructible bank charge; with both submission
	// windows closed the rule degrades to the debit rules below.
	if in.ACHAvailable && in.DebitAvailable && p.SubmissionWindowOpen(in.Now) && in.BalanceCents > p.HighBalanceForceACHCents && in.Trigger.forceACH() {
		submission := SubmissionNextDay
		if sameDay {
			submission = SubmissionSameDay
		}
		return Decision{Strategy: StrategyACHForced, Submission: submission}, nil
	}

	switch {
	case in.DebitAvailable && nextDay:
		return Decision{Strategy: StrategyDebitThenACHNextDay, Submission: SubmissionNextDay}, nil
	case in.DebitAvailable && in.ACHAvailable && sameDay && in.BalanceCents > p.SameDayMinBalanceCents:
		return Decision{Strategy: StrategyDebitThenACHSameDay, Submission: SubmissionSameDay}, nil
	case in.DebitAvailable:
		return Decision{Strategy: StrategyDebitOnly}, nil
	case nextDay:
		return Decision{Strategy: StrategyACHNextDay, Submission: SubmissionNextDay}, nil
	case in.ACHAvailable && sameDay:
		return Decision{Strategy: StrategyACHSameDay, Submission: SubmissionSameDay}, nil
	}

	if in.ACHAvailable {
		// The next-day window was open but the balance missed the
		// weekday floor; surface that over the blunter window error.
		if in.Now.In(p.Location).Hour() < p.NextDayCutoffHour && !sameDay {
			return Decision{}, ErrBalanceTooLow
		}
		return Decision{}, ErrOutsideACHWindow
	}
	return Decision{}, ErrNoEligibleRail
}
