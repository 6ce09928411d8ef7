package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tenantquota/pkg/handler"
	"github.com/dmitrymomot/tenantquota/svc/plan"
	"github.com/dmitrymomot/tenantquota/svc/subscription"
)

type signupRequest struct {
	Name             string            `json:"name"`
	PlanID           string            `json:"plan_id"`
	BillingCycle     plan.BillingCycle `json:"billing_cycle"`
	HasPaymentMethod bool              `json:"has_payment_method"`
}

type signupResponse struct {
	Organization subscription.Organization `json:"organization"`
	Subscription subscription.Subscription `json:"subscription"`
}

func (s *Server) signup(ctx handler.Context, req signupRequest) handler.Response {
	org, sub, err := s.subs.Signup(ctx, subscription.SignupRequest{
		Name:             req.Name,
		PlanID:           req.PlanID,
		BillingCycle:     req.BillingCycle,
		HasPaymentMethod: req.HasPaymentMethod,
	})
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(signupResponse{Organization: org, Subscription: sub},
		handler.WithJSONStatus(http.StatusCreated),
		handler.WithJSONHeader("Location", "/organizations/"+org.ID.String()),
	)
}

func (s *Server) getOrganization(ctx handler.Context, req organizationPath) handler.Response {
	org, err := s.subs.GetOrganization(ctx, req.OrgID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(org)
}

func (s *Server) currentSubscription(ctx handler.Context, req organizationPath) handler.Response {
	sub, err := s.subs.GetCurrent(ctx, req.OrgID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub, etag(sub.Version))
}

func (s *Server) subscriptionHistory(ctx handler.Context, req organizationPath) handler.Response {
	history, err := s.subs.History(ctx, req.OrgID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(history)
}

type subscriptionPath struct {
	ID uuid.UUID `path:"subID" json:"-"`
}

func (s *Server) getSubscription(ctx handler.Context, req subscriptionPath) handler.Response {
	sub, err := s.subs.Get(ctx, req.ID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub, etag(sub.Version))
}

func (s *Server) listPayments(ctx handler.Context, req subscriptionPath) handler.Response {
	if _, err := s.subs.Get(ctx, req.ID); err != nil {
		return handler.Error(err)
	}
	payments, err := s.subs.Payments(ctx, req.ID)
	if err != nil {
		return handler.Error(err)
	}
	if payments == nil {
		payments = []subscription.Payment{}
	}
	return handler.JSON(payments)
}

// mutated renders the result of an If-Match guarded action.
func mutated(sub subscription.Subscription, err error) handler.Response {
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub, etag(sub.Version))
}

type extendRequest struct {
	ID   uuid.UUID `path:"subID" json:"-"`
	Days int       `json:"days"`
}

func (s *Server) extend(ctx handler.Context, req extendRequest) handler.Response {
	version, err := expectedVersion(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	return mutated(s.subs.Extend(ctx, req.ID, version, req.Days))
}

type cancelRequest struct {
	ID        uuid.UUID `path:"subID" json:"-"`
	Reason    string    `json:"reason"`
	Immediate bool      `json:"immediate"`
}

func (s *Server) cancel(ctx handler.Context, req cancelRequest) handler.Response {
	version, err := expectedVersion(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	return mutated(s.subs.Cancel(ctx, req.ID, version, req.Reason, req.Immediate))
}

type planChangeRequest struct {
	ID     uuid.UUID `path:"subID" json:"-"`
	PlanID string    `json:"plan_id"`
}

func (s *Server) reactivate(ctx handler.Context, req planChangeRequest) handler.Response {
	version, err := expectedVersion(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	return mutated(s.subs.Reactivate(ctx, req.ID, version, req.PlanID))
}

func (s *Server) reapplyLimits(ctx handler.Context, req subscriptionPath) handler.Response {
	version, err := expectedVersion(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	return mutated(s.subs.ReapplyLimits(ctx, req.ID, version))
}

// changePlan answers with the successor subscription; its id differs from
// the one in the path.
func (s *Server) changePlan(ctx handler.Context, req planChangeRequest) handler.Response {
	version, err := expectedVersion(ctx.Request())
	if err != nil {
		return handler.Error(err)
	}
	sub, proration, err := s.subs.ChangePlan(ctx, req.ID, version, req.PlanID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub,
		etag(sub.Version),
		handler.WithJSONHeader("Location", "/subscriptions/"+sub.ID.String()),
		handler.WithJSONMeta(map[string]any{"proration": proration}),
	)
}
