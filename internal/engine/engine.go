// Package engine runs the daily renewal sweep and the plan-change mutators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/restobill/renewals/internal/billing"
	"github.com/restobill/renewals/internal/domain"
	"github.com/restobill/renewals/internal/entitlement"
	"github.com/restobill/renewals/internal/gateway"
	"github.com/restobill/renewals/internal/metrics"
	"github.com/restobill/renewals/internal/notify"
)

// SubscriptionStore is the persistence the engine needs. SaveSubscription must
// write the subscription and every ledger entry atomically and fail with
// domain.ErrVersionConflict when the stored version moved on.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	GetSubscriptionByTenant(ctx context.Context, tenantID string) (*domain.Subscription, error)
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]*domain.Subscription, error)
	ListScheduledChanges(ctx context.Context, asOf time.Time) ([]*domain.Subscription, error)
	ListRenewalCandidates(ctx context.Context, cutoff time.Time) ([]*domain.Subscription, error)
	SaveSubscription(ctx context.Context, sub *domain.Subscription, ledger ...domain.Transaction) error
}

type Enforcer interface {
	Enforce(ctx context.Context, tenantID string) (*entitlement.EnforceResult, error)
}

// PendingEnforcements tracks tenants whose cascade failed after a committed downgrade.
type PendingEnforcements interface {
	AddPendingEnforcement(ctx context.Context, tenantID string) error
	PendingEnforcements(ctx context.Context) ([]string, error)
	RemovePendingEnforcement(ctx context.Context, tenantID string) error
}

type EventPublisher interface {
	Publish(event domain.BillingEvent)
}

// Deps wires the engine. Pending, Events and Metrics may be nil.
type Deps struct {
	Store    SubscriptionStore
	Gateway  gateway.Client
	Enforcer Enforcer
	Pending  PendingEnforcements
	Notifier notify.Notifier
	Events   EventPublisher
	Metrics  *metrics.Metrics
	Catalog  domain.PlanCatalog
	Policy   billing.Policy
	Currency string
	Logger   *slog.Logger
	Now      func() time.Time
	// ItemTimeout bounds the work on one subscription. Zero means DefaultItemTimeout.
	ItemTimeout time.Duration
}

// DefaultItemTimeout bounds one subscription's store and gateway calls.
const DefaultItemTimeout = 2 * time.Minute

type Engine struct {
	store    SubscriptionStore
	gateway  gateway.Client
	enforcer Enforcer
	pending  PendingEnforcements
	notifier notify.Notifier
	events   EventPublisher
	metrics  *metrics.Metrics
	catalog  domain.PlanCatalog
	calc     *billing.Calculator
	currency string
	logger   *slog.Logger
	now      func() time.Time
	validate *validator.Validate

	itemTimeout time.Duration
}

func New(deps Deps) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Catalog == nil {
		deps.Catalog = domain.DefaultPlanCatalog()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(deps.Logger)
	}
	if deps.Currency == "" {
		deps.Currency = "USD"
	}
	if deps.ItemTimeout <= 0 {
		deps.ItemTimeout = DefaultItemTimeout
	}
	return &Engine{
		store:    deps.Store,
		gateway:  deps.Gateway,
		enforcer: deps.Enforcer,
		pending:  deps.Pending,
		notifier: deps.Notifier,
		events:   deps.Events,
		metrics:  deps.Metrics,
		catalog:  deps.Catalog,
		calc:     billing.NewCalculator(deps.Policy),
		currency: deps.Currency,
		logger:   deps.Logger,
		now:      deps.Now,
		validate: validator.New(),

		itemTimeout: deps.ItemTimeout,
	}
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	RemindersSent     int       `json:"reminders_sent"`
	DowngradesApplied int       `json:"downgrades_applied"`
	Renewed           int       `json:"renewed"`
	RenewalsFailed    int       `json:"renewals_failed"`
	DegradedToFree    int       `json:"degraded_to_free"`
	Skipped           int       `json:"skipped"`
	Errors            int       `json:"errors"`
	Reconciled        int       `json:"reconciled"`
}

// RunSweep runs reminders, then scheduled plan changes, then renewals, then
// retries pending entitlement cascades. A failing subscription never stops the
// sweep. The returned error only reports phases whose candidate query failed;
// the report is always returned.
func (e *Engine) RunSweep(ctx context.Context) (*SweepReport, error) {
	now := e.now().UTC()
	report := &SweepReport{StartedAt: now}

	e.logger.Info("renewal sweep started", "at", now)

	var errs []error
	if err := e.sendReminders(ctx, now, report); err != nil {
		errs = append(errs, err)
	}
	if err := e.applyScheduledDowngrades(ctx, now, report); err != nil {
		errs = append(errs, err)
	}
	if err := e.processRenewals(ctx, now, report); err != nil {
		errs = append(errs, err)
	}
	e.reconcilePending(ctx, report)

	report.FinishedAt = e.now().UTC()
	err := errors.Join(errs...)

	e.metrics.SweepFinished(report.StartedAt, report.FinishedAt, err != nil)
	e.publish(domain.BillingEvent{Type: domain.EventSweepCompleted, Data: report})

	e.logger.Info("renewal sweep finished",
		"reminders_sent", report.RemindersSent,
		"downgrades_applied", report.DowngradesApplied,
		"renewed", report.Renewed,
		"renewals_failed", report.RenewalsFailed,
		"degraded_to_free", report.DegradedToFree,
		"skipped", report.Skipped,
		"errors", report.Errors,
		"reconciled", report.Reconciled,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)

	return report, err
}

// forEach runs fn for every subscription, isolating failures and panics. Once
// started, a subscription is processed to the end even if ctx is cancelled;
// cancellation only stops the loop before the next one. Each subscription gets
// its own deadline so a hung call cannot hold the sweep.
func (e *Engine) forEach(ctx context.Context, phase string, subs []*domain.Subscription, report *SweepReport,
	fn func(ctx context.Context, sub *domain.Subscription) error) {
	for _, sub := range subs {
		if ctx.Err() != nil {
			e.logger.Warn("sweep interrupted", "phase", phase, "error", ctx.Err())
			return
		}
		itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.itemTimeout)
		err := e.guard(itemCtx, sub, fn)
		cancel()
		if err != nil {
			report.Errors++
			e.metrics.Outcome(metrics.OutcomeError)
			e.logger.Error("subscription processing failed",
				"phase", phase,
				"subscription_id", sub.ID,
				"tenant_id", sub.TenantID,
				"error", err,
			)
		}
	}
}

func (e *Engine) guard(ctx context.Context, sub *domain.Subscription,
	fn func(ctx context.Context, sub *domain.Subscription) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, sub)
}

// enforce runs the entitlement cascade. A failure parks the tenant for the
// reconciliation step of a later sweep.
func (e *Engine) enforce(ctx context.Context, tenantID string) error {
	result, err := e.enforcer.Enforce(ctx, tenantID)
	if err != nil {
		e.logger.Error("entitlement enforcement failed", "tenant_id", tenantID, "error", err)
		if e.pending != nil {
			if perr := e.pending.AddPendingEnforcement(ctx, tenantID); perr != nil {
				e.logger.Error("failed to record pending enforcement", "tenant_id", tenantID, "error", perr)
			}
		}
		return err
	}
	e.metrics.Paused(len(result.Paused))
	return nil
}

func (e *Engine) reconcilePending(ctx context.Context, report *SweepReport) {
	if e.pending == nil {
		return
	}
	tenants, err := e.pending.PendingEnforcements(ctx)
	if err != nil {
		e.logger.Error("listing pending enforcements failed", "error", err)
		return
	}

	remaining := len(tenants)
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			break
		}
		result, err := e.enforcer.Enforce(ctx, tenantID)
		if err != nil {
			e.logger.Warn("pending enforcement still failing", "tenant_id", tenantID, "error", err)
			continue
		}
		if err := e.pending.RemovePendingEnforcement(ctx, tenantID); err != nil {
			e.logger.Error("failed to clear pending enforcement", "tenant_id", tenantID, "error", err)
			continue
		}
		e.metrics.Paused(len(result.Paused))
		report.Reconciled++
		remaining--
	}
	e.metrics.SetPendingCascades(remaining)
}

func (e *Engine) publish(event domain.BillingEvent) {
	if e.events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	e.events.Publish(event)
}

func (e *Engine) currencyOf(sub *domain.Subscription) string {
	if sub.Currency != "" {
		return sub.Currency
	}
	return e.currency
}
