package collection

import "time"

const (
	SubmissionSameDay int32 = 1
	SubmissionNextDay int32 = 2
)

// SameDayEligible reports whether a same-day ACH submission is still
// accepted at now. Pure function of the clock.
func (p Policy) SameDayEligible(now time.Time) bool {
	return now.In(p.Location).Hour() < p.SameDayCutoffHour
}

// SubmissionWindowOpen reports whether any ACH submission class is still
// accepted at now, ignoring balance floors. When it is false no bank
// charge can be constructed at all.
func (p Policy) SubmissionWindowOpen(now time.Time) bool {
	hour := now.In(p.Location).Hour()
	return hour < p.SameDayCutoffHour || hour < p.NextDayCutoffHour
}

// NextDayEligible reports whether a next-day ACH submission is accepted at
// now for the given balance. The balance floor depends on the weekday at
// submission time: Friday submissions settle after the weekend and carry a
// higher floor.
func (p Policy) NextDayEligible(now time.Time, balanceCents int64) bool {
	local := now.In(p.Location)
	if local.Hour() >= p.NextDayCutoffHour {
		return false
	}
	return balanceCents >= p.NextDayMinBalanceForWeekday(local.Weekday())
}

func (p Policy) NextDayMinBalanceForWeekday(day time.Weekday) int64 {
	if day == time.Friday {
		return p.NextDayFridayMinBalanceCents
	}
	return p.NextDayMinBalanceCents
}
