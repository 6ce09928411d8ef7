package api

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tenantquota/pkg/handler"
	"github.com/dmitrymomot/tenantquota/svc/plan"
	"github.com/dmitrymomot/tenantquota/svc/usage"
)

type organizationPath struct {
	OrgID uuid.UUID `path:"orgID" json:"-"`
}

type counterRequest struct {
	OrgID    uuid.UUID     `path:"orgID" json:"-"`
	Resource plan.Resource `path:"resource" json:"-"`
	Amount   *int64        `json:"amount"`
}

// amount defaults to one when the body is absent.
func (r counterRequest) amount() int64 {
	if r.Amount == nil {
		return 1
	}
	return *r.Amount
}

type counterResponse struct {
	Resource plan.Resource `json:"resource"`
	Current  int64         `json:"current"`
}

// increment admits amount new resources or rejects with 409 {limit, current}.
func (s *Server) increment(ctx handler.Context, req counterRequest) handler.Response {
	cur, err := s.ledger.TryIncrement(ctx, req.OrgID, req.Resource, req.amount())
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(counterResponse{Resource: req.Resource, Current: cur})
}

func (s *Server) decrement(ctx handler.Context, req counterRequest) handler.Response {
	cur, err := s.ledger.Decrement(ctx, req.OrgID, req.Resource, req.amount())
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(counterResponse{Resource: req.Resource, Current: cur})
}

type reconcileRequest struct {
	OrgID  uuid.UUID               `path:"orgID" json:"-"`
	Counts map[plan.Resource]int64 `json:"counts"`
}

func (s *Server) reconcile(ctx handler.Context, req reconcileRequest) handler.Response {
	if len(req.Counts) == 0 {
		return handler.Error(fmt.Errorf("%w: counts must not be empty", handler.ErrBadRequest))
	}
	drift, err := s.ledger.Reconcile(ctx, req.OrgID, req.Counts)
	if err != nil {
		return handler.Error(err)
	}
	if drift == nil {
		drift = []usage.Drift{}
	}
	return handler.JSON(drift, handler.WithJSONMeta(map[string]any{"drifted": len(drift)}))
}

func (s *Server) usageReport(ctx handler.Context, req organizationPath) handler.Response {
	sub, err := s.subs.GetCurrent(ctx, req.OrgID)
	if err != nil {
		return handler.Error(err)
	}
	report, err := s.ledger.Report(ctx, req.OrgID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(report, handler.WithJSONMeta(map[string]any{
		"subscription_id": sub.ID,
		"status":          sub.Status,
		"over_limit":      sub.OverLimit,
	}))
}
