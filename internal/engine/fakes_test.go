package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/restobill/renewals/internal/domain"
	"github.com/restobill/renewals/internal/entitlement"
	"github.com/restobill/renewals/internal/gateway"
	"github.com/restobill/renewals/internal/metrics"
	"github.com/restobill/renewals/internal/notify"
)

var sweepTime = time.Date(2026, 3, 9, 3, 0, 0, 0, time.UTC)

// memStore is an in-memory SubscriptionStore with the same version semantics as Postgres.
type memStore struct {
	mu     sync.Mutex
	subs   map[string]*domain.Subscription
	ledger []domain.Transaction
	now    func() time.Time

	listErr  map[string]error
	saveHook func(sub *domain.Subscription) error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{subs: map[string]*domain.Subscription{}, listErr: map[string]error{}, now: now}
}

func (m *memStore) put(sub *domain.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.Version == 0 {
		sub.Version = 1
	}
	if sub.Status == "" {
		sub.Status = domain.SubscriptionActive
	}
	if sub.Currency == "" {
		sub.Currency = "USD"
	}
	m.subs[sub.ID] = sub.Clone()
}

func (m *memStore) get(id string) *domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[id].Clone()
}

func (m *memStore) transactions(subID string) []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.ledger {
		if t.SubscriptionID == subID {
			out = append(out, t)
		}
	}
	return out
}

func (m *memStore) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		return sub.Clone(), nil
	}
	return nil, nil
}

func (m *memStore) GetSubscriptionByTenant(_ context.Context, tenantID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.TenantID == tenantID {
			return sub.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memStore) list(kind string, match func(*domain.Subscription) bool) ([]*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.listErr[kind]; err != nil {
		return nil, err
	}
	var out []*domain.Subscription
	for _, sub := range m.subs {
		if sub.IsActive() && match(sub) {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListReminderCandidates(_ context.Context, from, to time.Time) ([]*domain.Subscription, error) {
	return m.list("reminders", func(s *domain.Subscription) bool {
		return s.AutoRenew && !s.IsFree() && !s.RenewalReminderSent &&
			s.EndAt != nil && !s.EndAt.Before(from) && s.EndAt.Before(to)
	})
}

func (m *memStore) ListScheduledChanges(_ context.Context, asOf time.Time) ([]*domain.Subscription, error) {
	return m.list("downgrades", func(s *domain.Subscription) bool {
		return s.ScheduledPlanChange != nil && (s.EndAt == nil || !s.EndAt.After(asOf))
	})
}

func (m *memStore) ListRenewalCandidates(_ context.Context, cutoff time.Time) ([]*domain.Subscription, error) {
	return m.list("renewals", func(s *domain.Subscription) bool {
		return s.AutoRenew && !s.IsFree() && s.ScheduledPlanChange == nil &&
			s.EndAt != nil && !s.EndAt.After(cutoff)
	})
}

func (m *memStore) SaveSubscription(_ context.Context, sub *domain.Subscription, ledger ...domain.Transaction) error {
	if m.saveHook != nil {
		if err := m.saveHook(sub); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.subs[sub.ID]
	if !ok || stored.Version != sub.Version {
		return fmt.Errorf("saving %s: %w", sub.ID, domain.ErrVersionConflict)
	}
	sub.Version++
	sub.UpdatedAt = m.now()
	m.subs[sub.ID] = sub.Clone()
	for _, t := range ledger {
		t.ID = fmt.Sprintf("tx-%d", len(m.ledger)+1)
		t.CreatedAt = m.now()
		m.ledger = append(m.ledger, t)
	}
	return nil
}

// memCampaigns backs the real enforcer.
type memCampaigns struct {
	mu        sync.Mutex
	campaigns []domain.Campaign
	pauseErr  error
}

func (c *memCampaigns) add(tenantID, id string, status domain.CampaignStatus, createdAt time.Time) {
	c.campaigns = append(c.campaigns, domain.Campaign{ID: id, TenantID: tenantID, Status: status, CreatedAt: createdAt})
}

func (c *memCampaigns) ListActiveCampaigns(_ context.Context, tenantID string) ([]domain.Campaign, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Campaign
	for _, cp := range c.campaigns {
		if cp.TenantID == tenantID && cp.CountsTowardConcurrency() {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (c *memCampaigns) PauseCampaigns(_ context.Context, tenantID string, ids []string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pauseErr != nil {
		return 0, c.pauseErr
	}
	var n int64
	for _, id := range ids {
		for i := range c.campaigns {
			if c.campaigns[i].ID == id && c.campaigns[i].TenantID == tenantID {
				c.campaigns[i].Status = domain.CampaignPaused
				n++
			}
		}
	}
	return n, nil
}

func (c *memCampaigns) statuses(tenantID string) map[string]domain.CampaignStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]domain.CampaignStatus{}
	for _, cp := range c.campaigns {
		if cp.TenantID == tenantID {
			out[cp.ID] = cp.Status
		}
	}
	return out
}

// fakeGateway charges every known customer unless told otherwise.
type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.ChargeRequest

	defaultCardFunc func(customerRef string) (*gateway.Card, error)
	chargeFunc      func(req gateway.ChargeRequest) (*gateway.ChargeResult, error)
}

func (g *fakeGateway) DefaultCard(_ context.Context, customerRef string) (*gateway.Card, error) {
	if g.defaultCardFunc != nil {
		return g.defaultCardFunc(customerRef)
	}
	return &gateway.Card{ID: "card_" + customerRef, CardholderName: "Owner"}, nil
}

func (g *fakeGateway) TokenizeCard(_ context.Context, _, cardID, _ string) (*gateway.Token, error) {
	return &gateway.Token{ID: "tok_" + cardID}, nil
}

func (g *fakeGateway) Charge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	n := len(g.requests)
	g.mu.Unlock()
	if g.chargeFunc != nil {
		return g.chargeFunc(req)
	}
	return &gateway.ChargeResult{OrderID: fmt.Sprintf("chg_%d", n), Status: gateway.ChargeCaptured}, nil
}

func (g *fakeGateway) charges() []gateway.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.ChargeRequest(nil), g.requests...)
}

func declineAll(gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	return nil, &gateway.Error{Kind: gateway.KindDeclined, Message: "card declined"}
}

type memPending struct {
	mu      sync.Mutex
	tenants map[string]bool
}

func (p *memPending) AddPendingEnforcement(_ context.Context, tenantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tenants[tenantID] = true
	return nil
}

func (p *memPending) PendingEnforcements(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for t := range p.tenants {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (p *memPending) RemovePendingEnforcement(_ context.Context, tenantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tenants, tenantID)
	return nil
}

type recordingNotifier struct {
	jobs []notify.ReminderJob
	err  error
}

func (n *recordingNotifier) QueueRenewalReminder(_ context.Context, job notify.ReminderJob) error {
	n.jobs = append(n.jobs, job)
	return n.err
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.BillingEvent
}

func (r *recordingEvents) Publish(event domain.BillingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) types() []domain.BillingEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.BillingEventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	engine    *Engine
	store     *memStore
	campaigns *memCampaigns
	gateway   *fakeGateway
	pending   *memPending
	notifier  *recordingNotifier
	events    *recordingEvents
	metrics   *metrics.Metrics
	now       time.Time
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		campaigns: &memCampaigns{},
		gateway:   &fakeGateway{},
		pending:   &memPending{tenants: map[string]bool{}},
		notifier:  &recordingNotifier{},
		events:    &recordingEvents{},
		metrics:   metrics.New(),
		now:       sweepTime,
	}
	clock := func() time.Time { return h.now }
	h.store = newMemStore(clock)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	catalog := domain.DefaultPlanCatalog()
	deps := Deps{
		Store:    h.store,
		Gateway:  h.gateway,
		Enforcer: entitlement.NewEnforcer(h.store, h.campaigns, catalog, logger),
		Pending:  h.pending,
		Notifier: h.notifier,
		Events:   h.events,
		Metrics:  h.metrics,
		Catalog:  catalog,
		Currency: "USD",
		Logger:   logger,
		Now:      clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.engine = New(deps)
	return h
}

func (h *harness) sweep(t *testing.T) *SweepReport {
	t.Helper()
	report, err := h.engine.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	return report
}

func ptr[T any](v T) *T { return &v }

// paidSub returns an auto-renewing subscription ending at end.
func paidSub(id, tenantID string, tier domain.PlanTier, end time.Time) *domain.Subscription {
	price := domain.DefaultPlanCatalog()[tier].MonthlyPrice
	return &domain.Subscription{
		ID:                 id,
		TenantID:           tenantID,
		PlanTier:           tier,
		Status:             domain.SubscriptionActive,
		StartAt:            end.Add(-30 * 24 * time.Hour),
		EndAt:              ptr(end),
		NextBillingAt:      ptr(end),
		PricePaid:          price,
		Currency:           "USD",
		GatewayCustomerRef: ptr("cus_" + tenantID),
		AutoRenew:          true,
	}
}

var errBoom = errors.New("boom")
