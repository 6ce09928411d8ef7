package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tenantquota/pkg/backoff"
	"github.com/dmitrymomot/tenantquota/pkg/logger"
)

// PaymentEvent is a gateway notification, already verified by the transport.
type PaymentEvent struct {
	SubscriptionID uuid.UUID     `json:"subscription_id"`
	Status         PaymentStatus `json:"status"`
	Amount         int64         `json:"amount"`
	Reference      string        `json:"reference"`
	Method         string        `json:"method,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// PaymentResult is the outcome of ApplyPayment.
type PaymentResult struct {
	Payment      Payment      `json:"payment"`
	Subscription Subscription `json:"subscription"`
	Duplicate    bool         `json:"duplicate"`
}

// ApplyPayment records a payment and drives the matching transition on the
// organization's current subscription. A reference seen before is a no-op.
func (s *Service) ApplyPayment(ctx context.Context, ev PaymentEvent) (PaymentResult, error) {
	ev.Reference = strings.TrimSpace(ev.Reference)
	if ev.SubscriptionID == uuid.Nil || ev.Reference == "" || !ev.Status.Valid() || ev.Amount < 0 {
		return PaymentResult{}, ErrInvalidPayment
	}

	sub, err := s.store.Get(ctx, ev.SubscriptionID)
	if err != nil {
		return PaymentResult{}, err
	}
	if !sub.IsCurrent() {
		if sub, err = s.store.GetCurrent(ctx, sub.OrganizationID); err != nil {
			return PaymentResult{}, err
		}
	}

	now := s.now()
	p := Payment{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		OrganizationID: sub.OrganizationID,
		Amount:         ev.Amount,
		Method:         ev.Method,
		Status:         ev.Status,
		Reference:      ev.Reference,
		Date:           ev.OccurredAt,
	}
	if p.Date.IsZero() {
		p.Date = now
	}

	isNew, err := s.store.RecordPayment(ctx, p)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("subscription: record payment: %w", err)
	}
	if !isNew {
		s.log.DebugContext(ctx, "duplicate payment reference ignored",
			logger.SubscriptionID(sub.ID), logger.Action(ev.Reference))
		return PaymentResult{Payment: p, Subscription: sub, Duplicate: true}, nil
	}
	s.record(ctx, "payment."+string(ev.Status), sub.OrganizationID, nil, p, nil,
		map[string]string{"reference": ev.Reference})

	result := PaymentResult{Payment: p, Subscription: sub}
	err = backoff.Retry(ctx, s.paymentAttempts, backoff.Fixed{Interval: 10 * time.Millisecond}, retryableWrite,
		func(ctx context.Context) error {
			cur, err := s.store.GetCurrent(ctx, sub.OrganizationID)
			if err != nil {
				return err
			}
			action, ok := paymentAction(cur, ev.Status, s.now())
			if !ok {
				result.Subscription = cur
				return nil
			}
			next, err := s.mutate(ctx, cur.ID, cur.Version, action, func(ctx context.Context, c Subscription, now time.Time) (Subscription, error) {
				return s.applyPayment(ctx, c, ev.Status, now)
			})
			if err != nil {
				return err
			}
			result.Subscription = next
			return nil
		})
	if err != nil {
		return result, err
	}
	return result, nil
}

func retryableWrite(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrSuperseded)
}

// paymentAction names the change a payment causes, if any.
func paymentAction(cur Subscription, status PaymentStatus, now time.Time) (string, bool) {
	switch status {
	case PaymentCompleted:
		switch cur.Status {
		case StatusTrial:
			return "subscription.activate", true
		case StatusPastDue:
			return "subscription.payment_recovered", true
		case StatusActive:
			if dueForRenewal(cur, now) {
				return "subscription.renew", true
			}
			if !cur.HasPaymentMethod {
				return "subscription.payment_method", true
			}
		}
	case PaymentFailed:
		if cur.Status == StatusActive {
			return "subscription.payment_failed", true
		}
	}
	return "", false
}

// dueForRenewal reports whether the period ends within one cycle of now.
func dueForRenewal(sub Subscription, now time.Time) bool {
	return !sub.EndDate.After(sub.BillingCycle.Advance(now))
}

func (s *Service) applyPayment(ctx context.Context, cur Subscription, status PaymentStatus, now time.Time) (Subscription, error) {
	if status == PaymentFailed {
		next, err := resolve(ctx, cur, EventPaymentFailed, now, s.cfg)
		if err != nil {
			return cur, err
		}
		next.GraceDeadline = s.graceDeadline(next.EndDate)
		return next, nil
	}

	next := cur
	next.HasPaymentMethod = true
	switch cur.Status {
	case StatusTrial, StatusPastDue:
		next, err := resolve(ctx, next, EventPaymentSucceeded, now, s.cfg)
		if err != nil {
			return cur, err
		}
		from := now
		if cur.Status == StatusPastDue {
			from = cur.EndDate
		}
		if err := s.renew(ctx, &next, from); err != nil {
			return cur, err
		}
		catchUp(&next, now)
		return next, nil
	case StatusActive:
		if dueForRenewal(cur, now) {
			if err := s.renew(ctx, &next, cur.EndDate); err != nil {
				return cur, err
			}
			catchUp(&next, now)
		}
		return next, nil
	}
	return cur, &TransitionError{From: cur.Status, Event: EventPaymentSucceeded}
}

// catchUp advances whole periods until the subscription's end is after now.
func catchUp(sub *Subscription, now time.Time) {
	for !sub.EndDate.After(now) {
		sub.StartDate = sub.EndDate
		sub.EndDate = sub.BillingCycle.Advance(sub.EndDate)
	}
}
