// Package entitlement keeps a tenant's running campaigns within the concurrency
// limit of its current plan.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/restobill/renewals/internal/domain"
)

// SubscriptionReader loads the subscription that decides a tenant's plan.
type SubscriptionReader interface {
	GetSubscriptionByTenant(ctx context.Context, tenantID string) (*domain.Subscription, error)
}

// CampaignStore is the slice of the campaign subsystem enforcement needs.
type CampaignStore interface {
	ListActiveCampaigns(ctx context.Context, tenantID string) ([]domain.Campaign, error)
	PauseCampaigns(ctx context.Context, tenantID string, ids []string) (int64, error)
}

// EnforceResult reports what one enforcement pass did. Limit 0 means unlimited.
type EnforceResult struct {
	TenantID string   `json:"tenant_id"`
	Limit    int      `json:"limit"`
	Active   []string `json:"active"`
	Paused   []string `json:"paused"`
}

type Enforcer struct {
	subs      SubscriptionReader
	campaigns CampaignStore
	catalog   domain.PlanCatalog
	logger    *slog.Logger
}

func NewEnforcer(subs SubscriptionReader, campaigns CampaignStore, catalog domain.PlanCatalog, logger *slog.Logger) *Enforcer {
	return &Enforcer{subs: subs, campaigns: campaigns, catalog: catalog, logger: logger}
}

// Enforce pauses the tenant's oldest running or scheduled campaigns until the
// count fits the plan limit. The newest campaigns are kept; ties on created_at
// are broken by id, descending. Running it twice is a no-op the second time.
func (e *Enforcer) Enforce(ctx context.Context, tenantID string) (*EnforceResult, error) {
	sub, err := e.subs.GetSubscriptionByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading subscription: %w", err)
	}

	tier := domain.PlanFree
	if sub != nil && sub.IsActive() {
		tier = sub.PlanTier
	}
	plan, err := e.catalog.Plan(tier)
	if err != nil {
		return nil, err
	}

	result := &EnforceResult{TenantID: tenantID, Limit: plan.CampaignConcurrencyLimit}

	campaigns, err := e.campaigns.ListActiveCampaigns(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing campaigns: %w", err)
	}

	active := make([]domain.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if c.CountsTowardConcurrency() {
			active = append(active, c)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.After(active[j].CreatedAt)
		}
		return active[i].ID > active[j].ID
	})

	keep := len(active)
	if !plan.UnlimitedCampaigns() && keep > plan.CampaignConcurrencyLimit {
		keep = plan.CampaignConcurrencyLimit
	}

	result.Active = ids(active[:keep])
	result.Paused = ids(active[keep:])

	if len(result.Paused) == 0 {
		return result, nil
	}

	paused, err := e.campaigns.PauseCampaigns(ctx, tenantID, result.Paused)
	if err != nil {
		return nil, fmt.Errorf("pausing campaigns: %w", err)
	}

	e.logger.Info("campaigns paused to fit plan",
		"tenant_id", tenantID,
		"plan_tier", tier,
		"limit", plan.CampaignConcurrencyLimit,
		"paused", paused,
	)

	return result, nil
}

func ids(campaigns []domain.Campaign) []string {
	out := make([]string, len(campaigns))
	for i, c := range campaigns {
		out[i] = c.ID
	}
	return out
}
