package api

import (
	"net/http"

	"github.com/dmitrymomot/tenantquota/pkg/handler"
	"github.com/dmitrymomot/tenantquota/svc/plan"
)

type planPath struct {
	ID string `path:"planID" json:"-"`
}

// planRequest is a plan body. On update the id comes from the path.
type planRequest struct {
	plan.Plan
	PathID string `path:"planID" json:"-"`
}

func (s *Server) listPlans(ctx handler.Context, _ struct{}) handler.Response {
	plans, err := s.catalog.ListActivePlans(ctx)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(plans)
}

func (s *Server) getPlan(ctx handler.Context, req planPath) handler.Response {
	p, err := s.catalog.GetPlan(ctx, req.ID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(p)
}

func (s *Server) createPlan(ctx handler.Context, req planRequest) handler.Response {
	created, err := s.catalog.CreatePlan(ctx, req.Plan)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(created,
		handler.WithJSONStatus(http.StatusCreated),
		handler.WithJSONHeader("Location", "/plans/"+created.ID),
	)
}

func (s *Server) updatePlan(ctx handler.Context, req planRequest) handler.Response {
	p := req.Plan
	p.ID = req.PathID
	updated, err := s.catalog.UpdatePlan(ctx, p)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(updated)
}

func (s *Server) deactivatePlan(ctx handler.Context, req planPath) handler.Response {
	p, err := s.catalog.DeactivatePlan(ctx, req.ID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(p)
}

func (s *Server) deletePlan(ctx handler.Context, req planPath) handler.Response {
	if err := s.catalog.DeletePlan(ctx, req.ID); err != nil {
		return handler.Error(err)
	}
	return handler.Empty()
}
