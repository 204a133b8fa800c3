package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when an action is not declared for a state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when no guarded transition accepts the fields
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrIncompleteGraph is returned by Build when the table is not total
	ErrIncompleteGraph = errors.New("incomplete stage graph")
)
