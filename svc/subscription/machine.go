package subscription

import (
	"context"
	"time"

	"github.com/dmitrymomot/tenantquota/pkg/statemachine"
)

// Event names a cause of a status change.
type Event string

const (
	EventPaymentSucceeded Event = "payment_succeeded"
	EventPaymentFailed    Event = "payment_failed"
	EventTrialConverted   Event = "trial_converted"
	EventTrialExpired     Event = "trial_expired"
	EventPeriodEnded      Event = "period_ended"
	EventGraceElapsed     Event = "grace_elapsed"
	EventCancel           Event = "cancel"
	EventReactivate       Event = "reactivate"
	EventExtended         Event = "extended"
	EventChangePlan       Event = "change_plan"
)

// Config holds the billing policy shared by the service and the sweep.
type Config struct {
	GracePeriodDays     int  `env:"BILLING_GRACE_PERIOD_DAYS" envDefault:"7"`
	AutoSuspendOnExpiry bool `env:"BILLING_AUTO_SUSPEND" envDefault:"true"`
}

// guardInput is what guards see. sub is the candidate state, after any date
// changes made by the operation itself.
type guardInput struct {
	sub Subscription
	now time.Time
	cfg Config
}

type guard = statemachine.Guard[Status, Event]

func input(data any) (guardInput, bool) {
	in, ok := data.(guardInput)
	return in, ok
}

var periodOver guard = func(_ context.Context, _ Status, _ Event, data any) bool {
	in, ok := input(data)
	return ok && in.sub.EndDate.Before(in.now)
}

var withPaymentMethod guard = func(_ context.Context, _ Status, _ Event, data any) bool {
	in, ok := input(data)
	return ok && in.sub.HasPaymentMethod
}

var withoutPaymentMethod guard = func(_ context.Context, _ Status, _ Event, data any) bool {
	in, ok := input(data)
	return ok && !in.sub.HasPaymentMethod
}

var graceElapsed guard = func(_ context.Context, _ Status, _ Event, data any) bool {
	in, ok := input(data)
	return ok && in.cfg.AutoSuspendOnExpiry &&
		in.sub.GraceDeadline != nil && in.now.After(*in.sub.GraceDeadline)
}

var periodRunning guard = func(_ context.Context, _ Status, _ Event, data any) bool {
	in, ok := input(data)
	return ok && in.sub.EndDate.After(in.now)
}

// newGraph builds the only status edges a subscription may take.
func newGraph() *statemachine.Graph[Status, Event] {
	return statemachine.MustNew(
		statemachine.WithTransitionFrom([]Status{StatusTrial, StatusPastDue}, StatusActive, EventPaymentSucceeded),
		statemachine.WithTransition(StatusTrial, StatusActive, EventTrialConverted,
			statemachine.WithGuard(periodOver), statemachine.WithGuard(withPaymentMethod)),
		statemachine.WithTransition(StatusTrial, StatusExpired, EventTrialExpired,
			statemachine.WithGuard(periodOver), statemachine.WithGuard(withoutPaymentMethod)),
		statemachine.WithTransition(StatusActive, StatusPastDue, EventPaymentFailed),
		statemachine.WithTransition(StatusActive, StatusPastDue, EventPeriodEnded,
			statemachine.WithGuard(periodOver)),
		statemachine.WithTransition(StatusPastDue, StatusSuspended, EventGraceElapsed,
			statemachine.WithGuard(graceElapsed)),
		statemachine.WithTransitionFrom([]Status{StatusActive, StatusPastDue, StatusSuspended}, StatusCancelled, EventCancel),
		statemachine.WithTransitionFrom([]Status{StatusSuspended, StatusCancelled, StatusExpired}, StatusActive, EventReactivate),
		statemachine.WithTransition(StatusExpired, StatusActive, EventExtended,
			statemachine.WithGuard(periodRunning)),
	)
}

var graph = newGraph()

// resolve moves sub along the edge for event, or explains why it cannot.
func resolve(ctx context.Context, sub Subscription, event Event, now time.Time, cfg Config) (Subscription, error) {
	t, err := graph.Resolve(ctx, sub.Status, event, guardInput{sub: sub, now: now, cfg: cfg})
	switch {
	case err == nil:
		sub.Status = t.To
		return sub, nil
	case statemachine.IsTransitionRejectedError(err):
		return sub, &TransitionError{From: sub.Status, Event: event, Rejected: true}
	default:
		return sub, &TransitionError{From: sub.Status, Event: event}
	}
}

// Allowed reports whether the graph has an edge for event out of from,
// ignoring guards.
func Allowed(from Status, event Event) bool {
	for _, e := range graph.Events(from) {
		if e == event {
			return true
		}
	}
	return false
}

// NextScheduledEvent returns the time-driven event due for sub at now, if any.
func NextScheduledEvent(sub Subscription, now time.Time, cfg Config) (Event, bool) {
	if !sub.IsCurrent() {
		return "", false
	}
	switch sub.Status {
	case StatusActive:
		if sub.EndDate.Before(now) {
			return EventPeriodEnded, true
		}
	case StatusPastDue:
		if cfg.AutoSuspendOnExpiry && sub.GraceDeadline != nil && now.After(*sub.GraceDeadline) {
			return EventGraceElapsed, true
		}
	case StatusTrial:
		if sub.EndDate.Before(now) {
			if sub.HasPaymentMethod {
				return EventTrialConverted, true
			}
			return EventTrialExpired, true
		}
	}
	return "", false
}
