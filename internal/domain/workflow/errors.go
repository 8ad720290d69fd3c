package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition means the trigger is not configured for the state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuardFailed means the trigger is configured but every guard declined
	ErrGuardFailed = errors.New("guard condition failed")
)

// TransitionError reports a rejected Fire. It unwraps to one of the sentinels.
type TransitionError struct {
	From    State
	Trigger Trigger
	Err     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s from %s", e.Err, e.Trigger, e.From)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
