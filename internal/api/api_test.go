package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tenantquota/internal/api"
	"github.com/dmitrymomot/tenantquota/pkg/limit"
	"github.com/dmitrymomot/tenantquota/svc/audit"
	"github.com/dmitrymomot/tenantquota/svc/payment"
	"github.com/dmitrymomot/tenantquota/svc/plan"
	"github.com/dmitrymomot/tenantquota/svc/subscription"
	"github.com/dmitrymomot/tenantquota/svc/usage"
)

type env struct {
	srv     *httptest.Server
	storage *audit.MemoryStorage
}

func newEnv(t *testing.T, opts ...api.Option) *env {
	t.Helper()

	small := plan.Limits{
		MaxStudents:  limit.Finite(2),
		MaxBatches:   limit.Finite(1),
		MaxStaff:     limit.Finite(1),
		MaxUsers:     limit.Unlimited(),
		MaxStorageMB: limit.Finite(100),
	}
	big := small
	big.MaxStudents = limit.Finite(100)

	subs := subscription.NewMemoryStore()
	plans := plan.NewMemoryStore(
		plan.Plan{ID: "basic", Tier: plan.TierBasic, MonthlyPrice: 3000, YearlyPrice: 30000, Currency: "USD", Limits: small, IsActive: true, Version: 1},
		plan.Plan{ID: "pro", Tier: plan.TierProfessional, MonthlyPrice: 6000, YearlyPrice: 60000, Currency: "USD", Limits: big, IsActive: true, Version: 1},
	)
	catalog := plan.NewCatalog(plans, plan.WithSubscriberCounter(subs))
	counters := usage.NewMemoryStore()
	storage := audit.NewMemoryStorage()
	emitter := audit.NewEmitter(storage)
	t.Cleanup(func() { _ = emitter.Close(context.Background()) })

	svc := subscription.NewService(subs, catalog,
		subscription.WithCounters(counters),
		subscription.WithAuditor(emitter),
	)
	ledger := usage.NewLedger(counters, svc, usage.WithAuditor(emitter))

	srv := httptest.NewServer(api.New(ledger, svc, catalog, emitter, opts...).Handler())
	t.Cleanup(srv.Close)
	return &env{srv: srv, storage: storage}
}

type response struct {
	Status  int
	Header  http.Header
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
	Limit   *int64          `json:"limit"`
	Current *int64          `json:"current"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *env) do(t *testing.T, method, path, body string, headers ...string) response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	res, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	out := response{Status: res.StatusCode, Header: res.Header}
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return out
}

func (e *env) signup(t *testing.T, planID string) subscription.Subscription {
	t.Helper()
	res := e.do(t, http.MethodPost, "/organizations", `{"name":"Acme","plan_id":"`+planID+`"}`)
	require.Equal(t, http.StatusCreated, res.Status)

	var out struct {
		Subscription subscription.Subscription `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &out))
	return out.Subscription
}

func TestIncrement_QuotaExceeded(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	sub := e.signup(t, "basic")
	path := "/internal/usage/" + sub.OrganizationID.String() + "/students/increment"

	for range 2 {
		res := e.do(t, http.MethodPost, path, "")
		require.Equal(t, http.StatusOK, res.Status)
	}

	res := e.do(t, http.MethodPost, path, `{"amount":1}`)
	assert.Equal(t, http.StatusConflict, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, "quota_exceeded", res.Error.Code)
	require.NotNil(t, res.Limit)
	require.NotNil(t, res.Current)
	assert.EqualValues(t, 2, *res.Limit)
	assert.EqualValues(t, 2, *res.Current)

	res = e.do(t, http.MethodPost, "/internal/usage/"+sub.OrganizationID.String()+"/students/decrement", "")
	assert.Equal(t, http.StatusOK, res.Status)
	res = e.do(t, http.MethodPost, path, "")
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestIncrement_BadInput(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	sub := e.signup(t, "basic")
	org := sub.OrganizationID.String()

	res := e.do(t, http.MethodPost, "/internal/usage/"+org+"/widgets/increment", "")
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = e.do(t, http.MethodPost, "/internal/usage/"+org+"/students/increment", `{"amount":0}`)
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = e.do(t, http.MethodPost, "/internal/usage/"+org+"/students/increment", `{"count":1}`)
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = e.do(t, http.MethodPost, "/internal/usage/not-a-uuid/students/increment", "")
	assert.Equal(t, http.StatusNotFound, res.Status)

	res = e.do(t, http.MethodPost, "/internal/usage/"+uuid.NewString()+"/students/increment", "")
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestSubscription_IfMatch(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	sub := e.signup(t, "basic")
	path := "/subscriptions/" + sub.ID.String() + "/extend"

	res := e.do(t, http.MethodPut, path, `{"days":30}`)
	assert.Equal(t, http.StatusPreconditionRequired, res.Status)

	res = e.do(t, http.MethodPut, path, `{"days":30}`, "If-Match", "abc")
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = e.do(t, http.MethodPut, path, `{"days":30}`, "If-Match", "7")
	assert.Equal(t, http.StatusPreconditionFailed, res.Status)

	res = e.do(t, http.MethodPut, path, `{"days":30}`, "If-Match", `"1"`)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, `"2"`, res.Header.Get("ETag"))

	var extended subscription.Subscription
	require.NoError(t, json.Unmarshal(res.Data, &extended))
	assert.Equal(t, sub.EndDate.AddDate(0, 0, 30).Unix(), extended.EndDate.Unix())

	res = e.do(t, http.MethodPut, path, `{"days":0}`, "If-Match", "2")
	assert.Equal(t, http.StatusUnprocessableEntity, res.Status)

	res = e.do(t, http.MethodGet, "/subscriptions/"+sub.ID.String(), "")
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, `"2"`, res.Header.Get("ETag"))
	assert.Contains(t, string(res.Data), `"limits_snapshot"`)
}

func TestSubscription_CancelBlocksUsage(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	sub := e.signup(t, "basic")

	res := e.do(t, http.MethodPut, "/subscriptions/"+sub.ID.String()+"/cancel",
		`{"reason":"closing","immediate":true}`, "If-Match", "1", "X-Actor-ID", "admin-7")
	require.Equal(t, http.StatusOK, res.Status)

	res = e.do(t, http.MethodPost, "/internal/usage/"+sub.OrganizationID.String()+"/students/increment", "")
	assert.Equal(t, http.StatusPaymentRequired, res.Status)

	res = e.do(t, http.MethodPut, "/subscriptions/"+sub.ID.String()+"/cancel", "", "If-Match", "2", "X-Actor-ID", "admin-7")
	assert.Equal(t, http.StatusConflict, res.Status)
	assert.Equal(t, "invalid_transition", res.Error.Code)

	events, _, err := e.storage.Query(context.Background(), audit.Query{
		Filter: audit.Filter{OrganizationID: sub.OrganizationID, Action: "subscription.cancel"},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, "admin-7", ev.ActorID)
	}

	res = e.do(t, http.MethodPut, "/subscriptions/"+sub.ID.String()+"/reactivate", "", "If-Match", "2")
	require.Equal(t, http.StatusOK, res.Status)
	res = e.do(t, http.MethodPost, "/internal/usage/"+sub.OrganizationID.String()+"/students/increment", "")
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestSubscription_ChangePlan(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	sub := e.signup(t, "basic")

	res := e.do(t, http.MethodPut, "/subscriptions/"+sub.ID.String()+"/change-plan", `{"plan_id":"pro"}`, "If-Match", "1")
	require.Equal(t, http.StatusOK, res.Status)
	assert.Contains(t, res.Meta, "proration")

	var next subscription.Subscription
	require.NoError(t, json.Unmarshal(res.Data, &next))
	assert.NotEqual(t, sub.ID, next.ID)
	assert.Equal(t, "pro", next.PlanID)
	assert.Equal(t, "/subscriptions/"+next.ID.String(), res.Header.Get("Location"))

	res = e.do(t, http.MethodPut, "/subscriptions/"+sub.ID.String()+"/extend", `{"days":1}`, "If-Match", "2")
	assert.Equal(t, http.StatusConflict, res.Status)
	assert.Equal(t, "superseded", res.Error.Code)

	res = e.do(t, http.MethodGet, "/organizations/"+sub.OrganizationID.String()+"/subscription", "")
	require.Equal(t, http.StatusOK, res.Status)
	assert.Contains(t, string(res.Data), next.ID.String())

	res = e.do(t, http.MethodGet, "/organizations/"+sub.OrganizationID.String()+"/usage", "")
	require.Equal(t, http.StatusOK, res.Status)
	var report []usage.ResourceUsage
	require.NoError(t, json.Unmarshal(res.Data, &report))
	require.Len(t, report, len(plan.Resources))
	assert.Equal(t, plan.Students, report[0].Resource)
	assert.Equal(t, limit.Finite(100), report[0].Limit)
}

func TestWebhook_Payment(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	sub := e.signup(t, "basic")
	body := `{"subscription_id":"` + sub.ID.String() + `","status":"failed","amount":3000,"reference":"pay-1"}`

	res := e.do(t, http.MethodPost, "/webhooks/payment", body)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, false, res.Meta["duplicate"])

	var result subscription.PaymentResult
	require.NoError(t, json.Unmarshal(res.Data, &result))
	assert.Equal(t, subscription.StatusPastDue, result.Subscription.Status)

	res = e.do(t, http.MethodPost, "/webhooks/payment", body)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, true, res.Meta["duplicate"])

	res = e.do(t, http.MethodPost, "/webhooks/payment", `{"subscription_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = e.do(t, http.MethodPost, "/webhooks/stripe", body)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

type ignoringParser struct{}

func (ignoringParser) Parse(*http.Request) (subscription.PaymentEvent, error) {
	return subscription.PaymentEvent{}, fmt.Errorf("%w: subscription.created", payment.ErrIgnoredEvent)
}

func TestWebhook_IgnoredEvent(t *testing.T) {
	t.Parallel()
	e := newEnv(t, api.WithWebhook("custom", ignoringParser{}))

	res := e.do(t, http.MethodPost, "/webhooks/custom", `{}`)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, true, res.Meta["ignored"])
}

func TestPlans(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	res := e.do(t, http.MethodPost, "/plans",
		`{"id":"team","name":"Team","tier":"enterprise","monthly_price":9900,"yearly_price":99000,"currency":"USD",
		  "limits":{"max_students":-1,"max_batches":-1,"max_staff":50,"max_users":-1,"max_storage_mb":10240},"is_active":true}`)
	require.Equal(t, http.StatusCreated, res.Status)

	res = e.do(t, http.MethodPost, "/plans", `{"id":"broken","tier":"platinum"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, res.Status)

	res = e.do(t, http.MethodGet, "/plans", "")
	require.Equal(t, http.StatusOK, res.Status)
	var plans []plan.Plan
	require.NoError(t, json.Unmarshal(res.Data, &plans))
	ids := make([]string, 0, len(plans))
	for _, p := range plans {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"basic", "pro", "team"}, ids)
	assert.True(t, plans[2].Limits.MaxStudents.IsUnlimited())

	e.signup(t, "basic")
	res = e.do(t, http.MethodDelete, "/plans/basic", "")
	assert.Equal(t, http.StatusConflict, res.Status)
	assert.Equal(t, "plan_in_use", res.Error.Code)

	res = e.do(t, http.MethodPost, "/plans/team/deactivate", "")
	require.Equal(t, http.StatusOK, res.Status)
	res = e.do(t, http.MethodDelete, "/plans/team", "")
	assert.Equal(t, http.StatusNoContent, res.Status)
	res = e.do(t, http.MethodGet, "/plans/team", "")
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestAuditEvents(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	sub := e.signup(t, "basic")

	res := e.do(t, http.MethodGet, "/audit/events?organization_id="+sub.OrganizationID.String()+"&limit=10", "")
	require.Equal(t, http.StatusOK, res.Status)
	var events []audit.Event
	require.NoError(t, json.Unmarshal(res.Data, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "organization.signup", events[0].Action)
	assert.EqualValues(t, 1, res.Meta["total"])

	res = e.do(t, http.MethodGet, "/audit/events?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "quotad_up_total", Help: "Process start marker."}))
	failing := func(context.Context) error { return errors.New("pg down") }

	e := newEnv(t, api.WithGatherer(reg), api.WithReadinessChecks(failing))

	res := e.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, res.Status)
	res = e.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, res.Status)
	res = e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, res.Status)
	assert.NotEmpty(t, res.Header.Get("X-Request-ID"))
}

type panickingLedger struct{ api.Ledger }

func (panickingLedger) Report(context.Context, uuid.UUID) ([]usage.ResourceUsage, error) {
	panic("ledger exploded")
}

func TestRecoverer(t *testing.T) {
	t.Parallel()
	subs := subscription.NewMemoryStore()
	catalog := plan.NewCatalog(plan.NewMemoryStore(
		plan.Plan{ID: "basic", Tier: plan.TierBasic, MonthlyPrice: 3000, Currency: "USD", IsActive: true, Version: 1},
	))
	svc := subscription.NewService(subs, catalog)
	storage := audit.NewMemoryStorage()
	emitter := audit.NewEmitter(storage)
	t.Cleanup(func() { _ = emitter.Close(context.Background()) })

	srv := httptest.NewServer(api.New(panickingLedger{}, svc, catalog, emitter).Handler())
	t.Cleanup(srv.Close)
	e := &env{srv: srv, storage: storage}

	sub := e.signup(t, "basic")
	res := e.do(t, http.MethodGet, "/organizations/"+sub.OrganizationID.String()+"/usage", "")
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, "internal_error", res.Error.Code)
	assert.NotContains(t, res.Error.Message, "exploded")

	res = e.do(t, http.MethodGet, "/no/such/route", "")
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, "route_not_found", res.Error.Code)
}
