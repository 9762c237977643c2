package schedule

import "errors"

var (
	// ErrIncompleteSelection is returned when a reschedule lacks a time or a resource.
	ErrIncompleteSelection = errors.New("time and resource must both be selected")
	// ErrPastTimeSelection is returned when a reschedule targets an instant before now.
	ErrPastTimeSelection = errors.New("selected time is in the past")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrIncompatibleResource is returned when a resource does not serve the operation's modality.
	ErrIncompatibleResource = errors.New("resource does not serve this modality")
	// ErrConcurrentModification is returned when another writer committed first.
	ErrConcurrentModification = errors.New("operation was modified concurrently")
)
