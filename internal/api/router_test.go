package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restobill/renewals/internal/domain"
	"github.com/restobill/renewals/internal/engine"
	"github.com/restobill/renewals/internal/metrics"
	"github.com/restobill/renewals/internal/store"
)

type fakeSubscriptions struct {
	subs      map[string]*domain.Subscription
	txs       []domain.Transaction
	err       error
	lastLimit int
}

func (f *fakeSubscriptions) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.subs[id], nil
}

func (f *fakeSubscriptions) ListTransactions(_ context.Context, _ string, limit int) ([]domain.Transaction, error) {
	f.lastLimit = limit
	return f.txs, nil
}

type fakeOnboarder struct {
	err         error
	gotTenant   string
	gotCurrency string
}

func (f *fakeOnboarder) CreateFreeSubscription(_ context.Context, tenantID, currency string) (*domain.Subscription, error) {
	f.gotTenant, f.gotCurrency = tenantID, currency
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Subscription{ID: "sub-new", TenantID: tenantID, PlanTier: domain.PlanFree, Currency: currency}, nil
}

type fakePlans struct {
	err       error
	gotID     string
	gotTarget domain.PlanTier
	cancelled bool
}

func (f *fakePlans) ScheduleDowngrade(_ context.Context, id string, target domain.PlanTier) (*domain.Subscription, error) {
	f.gotID, f.gotTarget = id, target
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Subscription{ID: id, PlanTier: domain.PlanTier2, ScheduledPlanChange: &target}, nil
}

func (f *fakePlans) CancelScheduledDowngrade(_ context.Context, id string) (*domain.Subscription, error) {
	f.gotID, f.cancelled = id, true
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Subscription{ID: id, PlanTier: domain.PlanTier2}, nil
}

type fakeTrigger struct {
	busy   bool
	report *engine.SweepReport
	err    error
	fired  int
}

func (f *fakeTrigger) Fire(context.Context) (*engine.SweepReport, bool, error) {
	if f.busy {
		return nil, false, nil
	}
	f.fired++
	return f.report, true, f.err
}

func (f *fakeTrigger) Busy() bool                      { return f.busy }
func (f *fakeTrigger) LastReport() *engine.SweepReport { return f.report }

type fakeStats struct{ err error }

func (f fakeStats) GetBillingStats(context.Context, time.Time) (*store.BillingStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &store.BillingStats{
		SubscriptionsByTier: map[string]int{"free": 3, "tier1": 2},
		Renewals24h:         4,
		FailedRenewals24h:   1,
		Revenue24h:          159600,
		RenewalSuccessRate:  80,
	}, nil
}

type fakePending []string

func (f fakePending) PendingEnforcements(context.Context) ([]string, error) { return f, nil }

type fakeQueue int64

func (f fakeQueue) QueueDepth(context.Context) (int64, error) { return int64(f), nil }

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testAPI struct {
	subs    *fakeSubscriptions
	onboard *fakeOnboarder
	plans   *fakePlans
	trigger *fakeTrigger
	handler http.Handler
}

func newTestAPI(t *testing.T, mutate ...func(*Deps)) *testAPI {
	t.Helper()
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	a := &testAPI{
		subs: &fakeSubscriptions{
			subs: map[string]*domain.Subscription{
				"sub-1": {ID: "sub-1", TenantID: "t1", PlanTier: domain.PlanTier1, EndAt: &end, Currency: "INR"},
			},
			txs: []domain.Transaction{{ID: "tx-1", SubscriptionID: "sub-1", Type: domain.TxRenewal, Amount: 39900}},
		},
		onboard: &fakeOnboarder{},
		plans:   &fakePlans{},
		trigger: &fakeTrigger{report: &engine.SweepReport{Renewed: 2}},
	}
	d := Deps{
		Subscriptions: a.subs,
		Onboarding:    a.onboard,
		Plans:         a.plans,
		Sweeps:        a.trigger,
		Stats:         fakeStats{},
		Pending:       fakePending{"t9"},
		Health:        map[string]Pinger{"postgres": pingFunc(func(context.Context) error { return nil })},
		Metrics:       metrics.New().Handler(),
		Currency:      "INR",
		Version:       "test",
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&d)
	}
	a.handler = NewRouter(d)
	return a
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRouter_Ping(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		a := newTestAPI(t)
		rec := a.do(t, http.MethodGet, "/api/v1/health", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "up", resp.Checks["postgres"])
	})

	t.Run("degraded", func(t *testing.T) {
		a := newTestAPI(t, func(d *Deps) {
			d.Health["redis"] = pingFunc(func(context.Context) error { return errors.New("connection refused") })
		})
		rec := a.do(t, http.MethodGet, "/api/v1/health", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "up", resp.Checks["postgres"])
		assert.Contains(t, resp.Checks["redis"], "connection refused")
	})
}

func TestGetSubscription(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/subscriptions/sub-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sub := decode[domain.Subscription](t, rec)
	assert.Equal(t, "t1", sub.TenantID)
	assert.Equal(t, domain.PlanTier1, sub.PlanTier)

	rec = a.do(t, http.MethodGet, "/api/v1/subscriptions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	a.subs.err = errors.New("db down")
	rec = a.do(t, http.MethodGet, "/api/v1/subscriptions/sub-1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestListTransactions(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/subscriptions/sub-1/transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[[]domain.Transaction](t, rec)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(39900), txs[0].Amount)
	assert.Equal(t, 50, a.subs.lastLimit)

	a.do(t, http.MethodGet, "/api/v1/subscriptions/sub-1/transactions?limit=10", "")
	assert.Equal(t, 10, a.subs.lastLimit)

	a.do(t, http.MethodGet, "/api/v1/subscriptions/sub-1/transactions?limit=abc", "")
	assert.Equal(t, 50, a.subs.lastLimit)

	rec = a.do(t, http.MethodGet, "/api/v1/subscriptions/nope/transactions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSubscription(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/subscriptions", `{"tenant_id":"t7"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "t7", a.onboard.gotTenant)
	assert.Equal(t, "INR", a.onboard.gotCurrency)

	rec = a.do(t, http.MethodPost, "/api/v1/subscriptions", `{"tenant_id":"t8","currency":"USD"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "USD", a.onboard.gotCurrency)

	rec = a.do(t, http.MethodPost, "/api/v1/subscriptions", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a.onboard.err = fmt.Errorf("tenant t7: %w", domain.ErrAlreadyExists)
	rec = a.do(t, http.MethodPost, "/api/v1/subscriptions", `{"tenant_id":"t7"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScheduleDowngrade(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/subscriptions/sub-1/scheduled-downgrade", `{"target_tier":"tier1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sub-1", a.plans.gotID)
	assert.Equal(t, domain.PlanTier1, a.plans.gotTarget)
	sub := decode[domain.Subscription](t, rec)
	require.NotNil(t, sub.ScheduledPlanChange)
	assert.Equal(t, domain.PlanTier1, *sub.ScheduledPlanChange)

	rec = a.do(t, http.MethodPost, "/api/v1/subscriptions/sub-1/scheduled-downgrade", `{bad`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleDowngrade_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.Invalid("target_tier", "must be below current tier"), http.StatusBadRequest},
		{"not found", fmt.Errorf("subscription sub-1: %w", domain.ErrNotFound), http.StatusNotFound},
		{"version conflict", fmt.Errorf("saving: %w", domain.ErrVersionConflict), http.StatusConflict},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t)
			a.plans.err = tt.err
			rec := a.do(t, http.MethodPost, "/api/v1/subscriptions/sub-1/scheduled-downgrade", `{"target_tier":"tier2"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCancelScheduledDowngrade(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodDelete, "/api/v1/subscriptions/sub-1/scheduled-downgrade", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, a.plans.cancelled)
	assert.Equal(t, "sub-1", a.plans.gotID)

	a.plans.err = fmt.Errorf("subscription x: %w", domain.ErrNotFound)
	rec = a.do(t, http.MethodDelete, "/api/v1/subscriptions/x/scheduled-downgrade", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunSweep(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/sweeps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[engine.SweepReport](t, rec)
	assert.Equal(t, 2, report.Renewed)
	assert.Equal(t, 1, a.trigger.fired)
}

func TestRunSweep_BusyReturnsConflict(t *testing.T) {
	a := newTestAPI(t)
	a.trigger.busy = true

	rec := a.do(t, http.MethodPost, "/api/v1/sweeps", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, a.trigger.fired)
}

func TestRunSweep_QueryFailure(t *testing.T) {
	a := newTestAPI(t)
	a.trigger.err = errors.New("renewal candidates: db down")

	rec := a.do(t, http.MethodPost, "/api/v1/sweeps", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[sweepErrorResponse](t, rec)
	assert.Contains(t, resp.Error, "db down")
	require.NotNil(t, resp.Report)
	assert.Equal(t, 2, resp.Report.Renewed)
}

func TestSweepStatus(t *testing.T) {
	next := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	a := newTestAPI(t, func(d *Deps) {
		d.NextRun = func() time.Time { return next }
	})
	a.trigger.busy = true

	rec := a.do(t, http.MethodGet, "/api/v1/sweeps/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[sweepStatus](t, rec)
	assert.True(t, status.Running)
	require.NotNil(t, status.NextRun)
	assert.True(t, next.Equal(*status.NextRun))
	require.NotNil(t, status.LastReport)
	assert.Equal(t, 2, status.LastReport.Renewed)
}

func TestDashboardStats(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/dashboard/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 4, body["renewals_24h"])
	assert.EqualValues(t, 159600, body["revenue_24h"])
	assert.EqualValues(t, 1, body["pending_enforcements"])
	assert.EqualValues(t, 0, body["reminder_queue_depth"])
	assert.EqualValues(t, 0, body["websocket_clients"])

	a = newTestAPI(t, func(d *Deps) { d.Reminders = fakeQueue(7) })
	rec = a.do(t, http.MethodGet, "/api/v1/dashboard/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 7, body["reminder_queue_depth"])

	a = newTestAPI(t, func(d *Deps) { d.Stats = fakeStats{err: errors.New("db down")} })
	rec = a.do(t, http.MethodGet, "/api/v1/dashboard/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "renewals_sweeps_skipped_total")
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodOptions, "/api/v1/sweeps", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
