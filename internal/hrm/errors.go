package hrm

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive is returned when a second peripheral is offered while a session exists.
	ErrSessionActive = errors.New("a session is already active")

	// ErrStaleHandle marks an event addressed to a session that no longer exists.
	ErrStaleHandle = errors.New("stale peripheral handle")

	// ErrInvalidTransition is wrapped by TransitionError.
	ErrInvalidTransition = errors.New("invalid session transition")

	ErrConnectTimeout   = errors.New("connect timed out")
	ErrDiscoveryTimeout = errors.New("discovery timed out")
)

// TransitionError reports a session state change that the transition table does not allow.
type TransitionError struct {
	From SessionState
	To   SessionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
