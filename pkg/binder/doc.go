// Package binder binds HTTP request data to tagged structs.
//
// Each binder is a func(r *http.Request, v any) error meant to be chained by
// handler.Wrap. One request struct may mix sources:
//
//	type counterRequest struct {
//		OrgID  uuid.UUID `path:"orgID" json:"-"`
//		Amount *int64    `json:"amount"`
//	}
//
//	h := handler.Wrap(increment, handler.WithBinders(
//		binder.Path(chi.URLParam),
//		binder.OptionalJSON(),
//	))
//
//   - JSON decodes an application/json body, rejecting unknown fields and
//     trailing data. OptionalJSON does the same but skips an empty body.
//   - Path reads `path` tags through a router specific extractor.
//   - Query reads `query` tags from the URL query string.
//
// Fields implementing encoding.TextUnmarshaler (uuid.UUID, time.Time) are
// parsed through it. Failures wrap ErrFailedToParseJSON, ErrFailedToParsePath
// or ErrFailedToParseQuery so the error handler can choose a status.
package binder
