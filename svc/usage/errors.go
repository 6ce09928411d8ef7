package usage

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/tenantquota/pkg/limit"
	"github.com/dmitrymomot/tenantquota/svc/plan"
)

var (
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrBusy                 = errors.New("usage counter is busy, retry later")
	ErrSubscriptionInactive = errors.New("subscription does not allow new resources")
	ErrUnknownResource      = errors.New("unknown resource type")
	ErrInvalidAmount        = errors.New("amount must be positive")
)

// QuotaError carries the limit and current value that caused a rejection.
type QuotaError struct {
	Resource  plan.Resource
	Limit     limit.Limit
	Current   int64
	Requested int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: current %d + %d > limit %s", e.Resource, e.Current, e.Requested, e.Limit)
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// AsQuotaError extracts a *QuotaError from err.
func AsQuotaError(err error) (*QuotaError, bool) {
	var qe *QuotaError
	ok := errors.As(err, &qe)
	return qe, ok
}
