package domain

import "fmt"

// PlanTier identifies a subscription plan.
type PlanTier string

const (
	PlanFree  PlanTier = "free"
	PlanTier1 PlanTier = "tier1"
	PlanTier2 PlanTier = "tier2"
)

// rank orders tiers from cheapest to most capable.
var rank = map[PlanTier]int{
	PlanFree:  0,
	PlanTier1: 1,
	PlanTier2: 2,
}

// Valid reports whether t is a known tier.
func (t PlanTier) Valid() bool {
	_, ok := rank[t]
	return ok
}

// Below reports whether t ranks lower than other.
func (t PlanTier) Below(other PlanTier) bool {
	return rank[t] < rank[other]
}

// ParsePlanTier converts a raw string into a PlanTier.
func ParsePlanTier(s string) (PlanTier, error) {
	t := PlanTier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown plan tier %q", s)
	}
	return t, nil
}

// Plan holds the price and entitlements of a tier.
type Plan struct {
	Tier                     PlanTier `json:"tier"`
	MonthlyPrice             int64    `json:"monthly_price"`              // minor units
	CampaignConcurrencyLimit int      `json:"campaign_concurrency_limit"` // 0 = unlimited
}

// IsFree reports whether the plan costs nothing.
func (p Plan) IsFree() bool {
	return p.MonthlyPrice == 0
}

// UnlimitedCampaigns reports whether the plan has no campaign concurrency cap.
func (p Plan) UnlimitedCampaigns() bool {
	return p.CampaignConcurrencyLimit == 0
}

// LowerCampaignLimitThan reports whether p allows fewer concurrent campaigns than other.
func (p Plan) LowerCampaignLimitThan(other Plan) bool {
	if p.UnlimitedCampaigns() {
		return false
	}
	if other.UnlimitedCampaigns() {
		return true
	}
	return p.CampaignConcurrencyLimit < other.CampaignConcurrencyLimit
}

// PlanCatalog is the static mapping from tier to plan.
type PlanCatalog map[PlanTier]Plan

// DefaultPlanCatalog returns the catalog used when no overrides are configured.
func DefaultPlanCatalog() PlanCatalog {
	return NewPlanCatalog(39900, 79900, 5)
}

// NewPlanCatalog builds a catalog with the given paid-tier prices and tier1 campaign limit.
// The free tier always allows a single concurrent campaign and tier2 is unbounded.
func NewPlanCatalog(tier1Price, tier2Price int64, tier1CampaignLimit int) PlanCatalog {
	return PlanCatalog{
		PlanFree:  {Tier: PlanFree, MonthlyPrice: 0, CampaignConcurrencyLimit: 1},
		PlanTier1: {Tier: PlanTier1, MonthlyPrice: tier1Price, CampaignConcurrencyLimit: tier1CampaignLimit},
		PlanTier2: {Tier: PlanTier2, MonthlyPrice: tier2Price, CampaignConcurrencyLimit: 0},
	}
}

// Plan looks up a tier. Unknown tiers are reported as an error.
func (c PlanCatalog) Plan(tier PlanTier) (Plan, error) {
	p, ok := c[tier]
	if !ok {
		return Plan{}, fmt.Errorf("plan %q not in catalog", tier)
	}
	return p, nil
}
