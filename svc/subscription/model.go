package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tenantquota/svc/plan"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether the status ends the paid lifecycle.
// Terminal subscriptions can only leave through reactivation.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// OrgStatus is the status of an organization, derived from its current subscription.
type OrgStatus string

const (
	OrgPending   OrgStatus = "pending"
	OrgTrial     OrgStatus = "trial"
	OrgActive    OrgStatus = "active"
	OrgSuspended OrgStatus = "suspended"
)

// OrgStatusFor maps a subscription status to the owning organization's status.
func OrgStatusFor(s Status) OrgStatus {
	switch s {
	case StatusTrial:
		return OrgTrial
	case StatusActive, StatusPastDue:
		return OrgActive
	case StatusSuspended, StatusCancelled, StatusExpired:
		return OrgSuspended
	default:
		return OrgPending
	}
}

// Organization is a tenant. It points at exactly one current subscription.
type Organization struct {
	ID                    uuid.UUID `json:"id"`
	Name                  string    `json:"name"`
	Status                OrgStatus `json:"status"`
	CurrentSubscriptionID uuid.UUID `json:"current_subscription_id"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Subscription binds an organization to a plan over a billing period.
// Limits is a snapshot taken at activation or renewal; later catalog edits
// do not change it until limits are explicitly reapplied.
type Subscription struct {
	ID               uuid.UUID         `json:"id"`
	OrganizationID   uuid.UUID         `json:"organization_id"`
	PlanID           string            `json:"plan_id"`
	PlanVersion      int               `json:"plan_version"`
	Status           Status            `json:"status"`
	BillingCycle     plan.BillingCycle `json:"billing_cycle"`
	StartDate        time.Time         `json:"start_date"`
	EndDate          time.Time         `json:"end_date"`
	GraceDeadline    *time.Time        `json:"grace_deadline,omitempty"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Limits           plan.Limits       `json:"limits_snapshot"`
	OverLimit        bool              `json:"over_limit"`
	HasPaymentMethod bool              `json:"has_payment_method"`
	CancelReason     string            `json:"cancel_reason,omitempty"`
	CancelledAt      *time.Time        `json:"cancelled_at,omitempty"`
	SupersededBy     *uuid.UUID        `json:"superseded_by,omitempty"`
	Version          int               `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IsCurrent reports whether the record has not been replaced by a plan change.
func (s Subscription) IsCurrent() bool {
	return s.SupersededBy == nil
}

// InService reports whether the organization may create new resources at now.
// A cancelled subscription keeps service until the paid period ends.
func (s Subscription) InService(now time.Time) bool {
	switch s.Status {
	case StatusTrial, StatusActive, StatusPastDue:
		return true
	case StatusCancelled:
		return s.EndDate.After(now)
	default:
		return false
	}
}

// PaymentStatus is the gateway reported outcome of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Payment is an append-only record. Reference is unique per gateway event.
type Payment struct {
	ID             uuid.UUID     `json:"id"`
	SubscriptionID uuid.UUID     `json:"subscription_id"`
	OrganizationID uuid.UUID     `json:"organization_id"`
	Amount         int64         `json:"amount"`
	Method         string        `json:"method,omitempty"`
	Status         PaymentStatus `json:"status"`
	Reference      string        `json:"reference"`
	Date           time.Time     `json:"date"`
}

// Proration is the money side of a mid-period plan change, in minor units.
// Exactly one of AmountDue and CreditNote is non-zero unless they cancel out.
type Proration struct {
	UnusedCredit int64 `json:"unused_credit"`
	NewCharge    int64 `json:"new_charge"`
	AmountDue    int64 `json:"amount_due"`
	CreditNote   int64 `json:"credit_note"`
}
