package collection

import "errors"

var (
	ErrNoEligibleRail   = errors.New("no eligible payment rail")
	ErrDebitUnavailable = errors.New("no valid debit card")
	ErrOutsideACHWindow = errors.New("outside ach submission window")
	ErrBalanceTooLow    = errors.New("balance below minimum")
	ErrObligationTooOld = errors.New("obligation outside collection window")
)

// Ineligible reports whether err is a terminal eligibility failure:
// logged, not retried, not an operator-visible fault.
func Ineligible(err error) bool {
	return errors.Is(err, ErrNoEligibleRail) ||
		errors.Is(err, ErrDebitUnavailable) ||
		errors.Is(err, ErrOutsideACHWindow) ||
		errors.Is(err, ErrBalanceTooLow) ||
		errors.Is(err, ErrObligationTooOld)
}
