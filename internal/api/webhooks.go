package api

import (
	"errors"
	"log/slog"

	"github.com/dmitrymomot/tenantquota/pkg/handler"
	"github.com/dmitrymomot/tenantquota/pkg/logger"
	"github.com/dmitrymomot/tenantquota/svc/audit"
	"github.com/dmitrymomot/tenantquota/svc/payment"
)

type gatewayPath struct {
	Gateway string `path:"gateway"`
}

// webhook accepts a gateway notification. Events without a payment outcome
// and already seen references are acknowledged with 200 so the gateway stops
// redelivering them.
func (s *Server) webhook(ctx handler.Context, req gatewayPath) handler.Response {
	parser, found := s.webhooks[req.Gateway]
	if !found {
		return handler.Error(errUnknownGateway)
	}

	ev, err := parser.Parse(ctx.Request())
	if errors.Is(err, payment.ErrIgnoredEvent) {
		s.log.DebugContext(ctx, "webhook event ignored", slog.String("gateway", req.Gateway), logger.Error(err))
		return handler.JSON(handler.JSONResponse{Meta: map[string]any{"ignored": true}})
	}
	if err != nil {
		s.log.WarnContext(ctx, "webhook rejected", slog.String("gateway", req.Gateway), logger.Error(err))
		return handler.Error(err)
	}

	result, err := s.subs.ApplyPayment(audit.WithActor(ctx, "gateway:"+req.Gateway), ev)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(result, handler.WithJSONMeta(map[string]any{"duplicate": result.Duplicate}))
}
