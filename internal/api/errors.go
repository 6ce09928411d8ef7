package api

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/tenantquota/pkg/handler"
	"github.com/dmitrymomot/tenantquota/svc/payment"
	"github.com/dmitrymomot/tenantquota/svc/plan"
	"github.com/dmitrymomot/tenantquota/svc/subscription"
	"github.com/dmitrymomot/tenantquota/svc/usage"
)

var (
	errRoute            = handler.NewHTTPError(http.StatusNotFound, "route_not_found")
	errMissingIfMatch   = handler.NewHTTPError(http.StatusPreconditionRequired, "if_match_required")
	errMalformedVersion = handler.NewHTTPError(http.StatusBadRequest, "malformed_if_match")
	errUnknownGateway   = handler.NewHTTPError(http.StatusNotFound, "unknown_gateway")
)

type domainError struct {
	target error
	status int
	code   string
}

// domainErrors is matched in order with errors.Is.
var domainErrors = []domainError{
	{usage.ErrQuotaExceeded, http.StatusConflict, "quota_exceeded"},
	{usage.ErrSubscriptionInactive, http.StatusPaymentRequired, "subscription_inactive"},
	{usage.ErrBusy, http.StatusServiceUnavailable, "busy"},
	{usage.ErrUnknownResource, http.StatusBadRequest, "invalid_usage_request"},
	{usage.ErrInvalidAmount, http.StatusBadRequest, "invalid_usage_request"},

	{subscription.ErrConcurrentModification, http.StatusPreconditionFailed, "concurrent_modification"},
	{subscription.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{subscription.ErrSuperseded, http.StatusConflict, "superseded"},
	{subscription.ErrOrganizationExists, http.StatusConflict, "already_exists"},
	{plan.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{plan.ErrPlanInUse, http.StatusConflict, "plan_in_use"},
	{plan.ErrConcurrentModification, http.StatusPreconditionFailed, "concurrent_modification"},
	{subscription.ErrNotFound, http.StatusNotFound, "not_found"},
	{subscription.ErrOrganizationNotFound, http.StatusNotFound, "not_found"},
	{plan.ErrNotFound, http.StatusNotFound, "not_found"},

	{plan.ErrInvalidPlan, http.StatusUnprocessableEntity, "validation_failed"},
	{subscription.ErrInvalidDays, http.StatusUnprocessableEntity, "validation_failed"},
	{subscription.ErrInvalidSignup, http.StatusUnprocessableEntity, "validation_failed"},
	{subscription.ErrInvalidPayment, http.StatusUnprocessableEntity, "validation_failed"},
	{subscription.ErrPlanUnavailable, http.StatusUnprocessableEntity, "validation_failed"},
	{subscription.ErrSamePlan, http.StatusUnprocessableEntity, "validation_failed"},

	{payment.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{payment.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload"},
}

// classify maps domain errors to statuses and stable codes. Quota
// rejections carry {limit, current} at the top level of the body.
func classify(err error) (handler.ErrorInfo, bool) {
	for _, d := range domainErrors {
		if !errors.Is(err, d.target) {
			continue
		}
		info := handler.ErrorInfo{StatusCode: d.status, Code: d.code}
		if qe, found := usage.AsQuotaError(err); found {
			info.Extra = map[string]any{"limit": qe.Limit, "current": qe.Current}
		}
		return info, true
	}
	return handler.ErrorInfo{}, false
}
