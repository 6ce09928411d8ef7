package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tenantquota/pkg/handler"
	"github.com/dmitrymomot/tenantquota/svc/audit"
)

type auditQuery struct {
	OrganizationID uuid.UUID `query:"organization_id"`
	Action         string    `query:"action"`
	From           time.Time `query:"from"`
	To             time.Time `query:"to"`
	Page           int       `query:"page"`
	Limit          int       `query:"limit"`
}

// listAuditEvents serves GET /audit/events. from and to are RFC 3339.
func (s *Server) listAuditEvents(ctx handler.Context, q auditQuery) handler.Response {
	f := audit.Filter{
		OrganizationID: q.OrganizationID,
		Action:         q.Action,
		From:           q.From,
		To:             q.To,
	}
	result, err := s.auditLog.ListEvents(ctx, f, q.Page, q.Limit)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(result.Events, handler.WithJSONMeta(map[string]any{
		"page":  result.Page,
		"limit": result.Limit,
		"total": result.Total,
	}))
}
