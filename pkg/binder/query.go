package binder

import "net/http"

// Query binds `query:"name"` fields from the URL query string. Slices accept
// repeated and comma separated values; types implementing
// encoding.TextUnmarshaler (uuid.UUID, time.Time) parse themselves.
//
//	type eventsQuery struct {
//		OrganizationID uuid.UUID `query:"organization_id"`
//		From           time.Time `query:"from"` // RFC 3339
//		Page           int       `query:"page"`
//	}
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", r.URL.Query(), ErrFailedToParseQuery)
	}
}
