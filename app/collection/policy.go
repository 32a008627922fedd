package collection

import "time"

// Policy holds the business constants governing rail selection and ACH
// submission windows. The defaults are fixed business values, not
// configuration; the struct exists so the selector and window calculator
// stay pure functions of their inputs.
type Policy struct {
	Location *time.Location

	// SameDayCutoffHour is the local hour before which a same-day ACH
	// submission is accepted. NextDayCutoffHour closes the later
	// next-day submission window.
	SameDayCutoffHour int
	NextDayCutoffHour int

	// Next-day ACH requires a minimum balance; the Friday value is
	// higher to cover weekend float.
	NextDayMinBalanceCents       int64
	NextDayFridayMinBalanceCents int64

	// SameDayMinBalanceCents gates the debit-then-same-day-ACH fallback
	// strategy.
	SameDayMinBalanceCents int64

	// Post-refresh minimum balance: lower when a valid debit card gives
	// us a second rail to fall back on.
	MinBalanceWithDebitCents    int64
	MinBalanceWithoutDebitCents int64

	// Above HighBalanceForceACHCents, low-risk triggers charge the bank
	// account directly regardless of debit availability.
	HighBalanceForceACHCents int64

	// Below FallbackRiskBalanceCents, high-risk triggers are denied
	// second-rail escalation after a debit failure.
	FallbackRiskBalanceCents int64

	// MaxAgeDays bounds the collection window together with the one
	// calendar month rule, whichever is more restrictive.
	MaxAgeDays int
}

func DefaultPolicy() Policy {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Policy{
		Location:                     loc,
		SameDayCutoffHour:            14,
		NextDayCutoffHour:            18,
		NextDayMinBalanceCents:       20000,
		NextDayFridayMinBalanceCents: 50000,
		SameDayMinBalanceCents:       1000,
		MinBalanceWithDebitCents:     500,
		MinBalanceWithoutDebitCents:  1000,
		HighBalanceForceACHCents:     10000,
		FallbackRiskBalanceCents:     10000,
		MaxAgeDays:                   40,
	}
}

// MinBalanceCents is the minimum post-refresh balance required before any
// charge is attempted.
func (p Policy) MinBalanceCents(debitAvailable bool) int64 {
	if debitAvailable {
		return p.MinBalanceWithDebitCents
	}
	return p.MinBalanceWithoutDebitCents
}

// WithinCollectionWindow reports whether an obligation due at dueAt is
// still collectible at now: no older than MaxAgeDays and no older than one
// calendar month, whichever cuts off first.
func (p Policy) WithinCollectionWindow(dueAt, now time.Time) bool {
	byDays := now.AddDate(0, 0, -p.MaxAgeDays)
	byMonth := now.AddDate(0, -1, 0)

	cutoff := byDays
	if byMonth.After(cutoff) {
		cutoff = byMonth
	}
	return !dueAt.Before(cutoff)
}
