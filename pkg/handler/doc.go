// Package handler provides typed HTTP handlers for JSON APIs.
//
// A handler is a plain function that receives a bound request struct and
// returns a Response. Wrap turns it into an http.HandlerFunc: binders from
// the binder package populate the request, the returned Response renders
// itself, and every failure along the way goes through one ErrorHandler.
//
//	type extendRequest struct {
//		ID   uuid.UUID `path:"subID" json:"-"`
//		Days int       `json:"days"`
//	}
//
//	func (s *Server) extend(ctx handler.Context, req extendRequest) handler.Response {
//		sub, err := s.subs.Extend(ctx, req.ID, version, req.Days)
//		if err != nil {
//			return handler.Error(err)
//		}
//		return handler.JSON(sub)
//	}
//
//	r.Put("/subscriptions/{subID}/extend", handler.Wrap(s.extend,
//		handler.WithBinders(binder.Path(chi.URLParam), binder.JSON()),
//		handler.WithErrorHandler(errorHandler),
//	))
//
// # Responses
//
// JSON renders the standard envelope {data, meta, error}. Options set the
// status, meta, and response headers:
//
//	handler.JSON(plan, handler.WithJSONStatus(http.StatusCreated),
//		handler.WithJSONHeader("Location", "/plans/"+plan.ID))
//	handler.Empty()      // 204 No Content
//	handler.Error(err)   // delegated to the ErrorHandler
//
// # Errors
//
// NewErrorHandler classifies an error into ErrorInfo, logs it at a level
// derived from the status and renders it as a JSON error envelope.
// Classification tries the supplied Classifiers first, then binder errors,
// then HTTPError values found with errors.As. Anything else is a 500 whose
// message is not exposed to the client.
//
// ErrorInfo.Extra adds members next to data, meta and error, which lets a
// domain error carry structured fields at the top level of the body:
//
//	{"error":{"code":"quota_exceeded","message":"..."},"limit":50,"current":50}
package handler
