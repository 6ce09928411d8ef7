package subscription

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("subscription not found")
	ErrOrganizationNotFound   = errors.New("organization not found")
	ErrOrganizationExists     = errors.New("organization already exists")
	ErrInvalidTransition      = errors.New("invalid subscription transition")
	ErrConcurrentModification = errors.New("subscription was modified concurrently")
	ErrSuperseded             = errors.New("subscription has been superseded by a plan change")
	ErrInvalidDays            = errors.New("days must be positive")
	ErrPlanUnavailable        = errors.New("plan is not available for subscription")
	ErrSamePlan               = errors.New("subscription is already on this plan")
	ErrInvalidSignup          = errors.New("invalid signup request")
	ErrInvalidPayment         = errors.New("invalid payment event")
	ErrInvalidEvent           = errors.New("event cannot be fired by the scheduler")
)

// TransitionError reports a status change that is not in the graph, or one
// whose preconditions did not hold.
type TransitionError struct {
	From     Status
	Event    Event
	Rejected bool // edge exists but a guard blocked it
}

func (e *TransitionError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("transition %q from %q rejected: preconditions not met", e.Event, e.From)
	}
	return fmt.Sprintf("transition %q not allowed from %q", e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
