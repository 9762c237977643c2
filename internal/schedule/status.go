package schedule

import (
	"fmt"

	"termsched/internal/model"
)

// statusTransitions lists the coarse lifecycle moves. Staying in place is
// allowed for every non-terminal status.
var statusTransitions = map[model.Status][]model.Status{
	model.StatusPlanned:   {model.StatusActive},
	model.StatusActive:    {model.StatusPlanned, model.StatusCompleted},
	model.StatusCompleted: {},
}

var currentStatusTransitions = map[model.CurrentStatus][]model.CurrentStatus{
	model.CurrentScheduled:          {model.CurrentInProgress, model.CurrentRescheduleRequired, model.CurrentDelayed},
	model.CurrentRescheduleRequired: {model.CurrentScheduled},
	model.CurrentInProgress:         {model.CurrentDelayed, model.CurrentCompleted, model.CurrentScheduled},
	model.CurrentDelayed:            {model.CurrentInProgress, model.CurrentRescheduleRequired, model.CurrentScheduled, model.CurrentCompleted},
	model.CurrentCompleted:          {},
}

// CheckStatus returns ErrInvalidTransition unless from may move to to.
func CheckStatus(from, to model.Status) error {
	if from == "" {
		return nil
	}
	allowed, known := statusTransitions[from]
	if !known {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if from == to && from != model.StatusCompleted {
		return nil
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CheckCurrentStatus is CheckStatus for the fine-grained label.
func CheckCurrentStatus(from, to model.CurrentStatus) error {
	if from == "" {
		return nil
	}
	allowed, known := currentStatusTransitions[from]
	if !known {
		return fmt.Errorf("%w: unknown current status %q", ErrInvalidTransition, from)
	}
	if from == to && from != model.CurrentCompleted {
		return nil
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
