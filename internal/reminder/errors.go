package reminder

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("invalid reminder request")

// ValidationError reports a rejected request. No state was changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes every *ValidationError match ErrValidation.
func (*ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// DeliveryError wraps a failed or panicking delivery callback.
// It is logged by the tracked task and never returned to callers.
type DeliveryError struct {
	Err        error
	ReminderID string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver reminder %s: %v", e.ReminderID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
