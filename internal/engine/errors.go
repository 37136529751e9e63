package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers. The HTTP layer maps these onto
// status codes; nothing in the engine retries on them.
var (
	// ErrStaleTransition reports a guard or compare-and-swap failure on a
	// mission or escrow transition. The caller lost a race or acted on
	// stale state.
	ErrStaleTransition = errors.New("stale state transition")

	// ErrNotAuthorized reports a caller acting outside their role for the
	// requested transition.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrPaymentNotCompleted reports a checkout session whose processor
	// status is anything other than paid.
	ErrPaymentNotCompleted = errors.New("payment not completed")

	// ErrPaymentGateway reports a failure talking to the payment
	// processor. Unlike ErrPaymentNotCompleted the caller may retry.
	ErrPaymentGateway = errors.New("payment gateway unavailable")
)

// ValidationError reports malformed input rejected before any state
// mutation.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string { return e.Message }

func validationf(format string, args ...any) error {
	return ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
