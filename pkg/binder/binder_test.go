package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tenantquota/pkg/binder"
)

type amountRequest struct {
	OrgID    uuid.UUID `path:"org" json:"-"`
	Resource string    `path:"resource" json:"-"`
	Amount   *int64    `json:"amount"`
}

func jsonRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	return r
}

func TestJSON(t *testing.T) {
	t.Parallel()

	t.Run("decodes", func(t *testing.T) {
		t.Parallel()
		var req amountRequest
		require.NoError(t, binder.JSON()(jsonRequest(`{"amount":3}`), &req))
		require.NotNil(t, req.Amount)
		assert.EqualValues(t, 3, *req.Amount)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		t.Parallel()
		var req amountRequest
		err := binder.JSON()(jsonRequest(`{"count":3}`), &req)
		assert.ErrorIs(t, err, binder.ErrFailedToParseJSON)
	})

	t.Run("rejects trailing data", func(t *testing.T) {
		t.Parallel()
		var req amountRequest
		err := binder.JSON()(jsonRequest(`{"amount":1}{"amount":2}`), &req)
		assert.ErrorIs(t, err, binder.ErrFailedToParseJSON)
	})

	t.Run("rejects other media types", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`amount=1`))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		var req amountRequest
		assert.ErrorIs(t, binder.JSON()(r, &req), binder.ErrUnsupportedMediaType)

		r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":1}`))
		assert.ErrorIs(t, binder.JSON()(r, &req), binder.ErrMissingContentType)
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()
		var req amountRequest
		r := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		assert.ErrorIs(t, binder.JSON()(r, &req), binder.ErrFailedToParseJSON)

		r = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		assert.ErrorIs(t, binder.OptionalJSON()(r, &req), binder.ErrBinderNotApplicable)
		assert.Nil(t, req.Amount)
	})
}

func TestPath(t *testing.T) {
	t.Parallel()

	org := uuid.New()
	params := map[string]string{"org": org.String(), "resource": "students"}
	extract := func(_ *http.Request, name string) string { return params[name] }

	var req amountRequest
	require.NoError(t, binder.Path(extract)(httptest.NewRequest(http.MethodGet, "/", nil), &req))
	assert.Equal(t, org, req.OrgID)
	assert.Equal(t, "students", req.Resource)

	bad := func(_ *http.Request, name string) string {
		if name == "org" {
			return "not-a-uuid"
		}
		return ""
	}
	err := binder.Path(bad)(httptest.NewRequest(http.MethodGet, "/", nil), &req)
	assert.ErrorIs(t, err, binder.ErrFailedToParsePath)
}

type eventsQuery struct {
	OrganizationID uuid.UUID `query:"organization_id"`
	From           time.Time `query:"from"`
	Actions        []string  `query:"action"`
	Page           int       `query:"page"`
	Verbose        *bool     `query:"verbose"`
	Ignored        string
}

func TestQuery(t *testing.T) {
	t.Parallel()

	org := uuid.New()
	r := httptest.NewRequest(http.MethodGet,
		"/?organization_id="+org.String()+"&from=2026-01-02T03:04:05Z&action=a,b&action=c&page=2&verbose=true&ignored=x", nil)

	var q eventsQuery
	require.NoError(t, binder.Query()(r, &q))
	assert.Equal(t, org, q.OrganizationID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), q.From)
	assert.Equal(t, []string{"a", "b", "c"}, q.Actions)
	assert.Equal(t, 2, q.Page)
	require.NotNil(t, q.Verbose)
	assert.True(t, *q.Verbose)
	assert.Empty(t, q.Ignored)

	for _, raw := range []string{"/?from=yesterday", "/?page=two", "/?organization_id=42"} {
		var q eventsQuery
		err := binder.Query()(httptest.NewRequest(http.MethodGet, raw, nil), &q)
		assert.ErrorIs(t, err, binder.ErrFailedToParseQuery, raw)
	}
}
