package rail

import (
	"errors"
	"fmt"
)

// Decline codes normalized across processors.
const (
	DeclineInsufficientFunds = "insufficient_funds"
	DeclineDoNotHonor        = "do_not_honor"
	DeclineExpiredCard       = "expired_card"
)

// DeclineError is a classified processor decline. Anything a rail returns
// that is not a DeclineError counts as an unrecognized processor error.
type DeclineError struct {
	Processor string
	Code      string
	Message   string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("%s declined charge: code=%s message=%s", e.Processor, e.Code, e.Message)
}

func (e *DeclineError) InsufficientFunds() bool {
	return e.Code == DeclineInsufficientFunds
}

// AsDecline unwraps err into a DeclineError, nil if it is not one.
func AsDecline(err error) *DeclineError {
	var decline *DeclineError
	if errors.As(err, &decline) {
		return decline
	}
	return nil
}

var knownDeclineCodes = map[string]struct{}{
	DeclineInsufficientFunds: {},
	DeclineDoNotHonor:        {},
	DeclineExpiredCard:       {},
}

func declineOrGeneric(processor, code, message string, status int) error {
	if _, ok := knownDeclineCodes[code]; ok {
		return &DeclineError{Processor: processor, Code: code, Message: message}
	}
	return fmt.Errorf("%s charge failed: status=%d code=%s message=%s", processor, status, code, message)
}
