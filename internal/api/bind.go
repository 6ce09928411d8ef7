package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrymomot/tenantquota/pkg/handler"
	"github.com/dmitrymomot/tenantquota/svc/audit"
)

// expectedVersion reads the optimistic concurrency token from If-Match.
// "3", "\"3\"" and W/"3" are accepted.
func expectedVersion(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" {
		return 0, errMissingIfMatch
	}
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, errMalformedVersion
	}
	return v, nil
}

func etag(version int) handler.JSONOption {
	return handler.WithJSONHeader("ETag", strconv.Quote(strconv.Itoa(version)))
}

// actorMiddleware trusts X-Actor-ID set by the upstream identity provider.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get("X-Actor-ID")); actor != "" {
			r = r.WithContext(audit.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
