package domain

import "time"

// SubscriptionStatus is the lifecycle state of a subscription record.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is the single billing record a tenant owns.
type Subscription struct {
	ID                   string             `json:"id"`
	TenantID             string             `json:"tenant_id"`
	PlanTier             PlanTier           `json:"plan_tier"`
	Status               SubscriptionStatus `json:"status"`
	StartAt              time.Time          `json:"start_at"`
	EndAt                *time.Time         `json:"end_at,omitempty"`
	NextBillingAt        *time.Time         `json:"next_billing_at,omitempty"`
	PricePaid            int64              `json:"price_paid"`
	Currency             string             `json:"currency"`
	GatewayCustomerRef   *string            `json:"gateway_customer_ref,omitempty"`
	AutoRenew            bool               `json:"auto_renew"`
	RenewalAttempts      int                `json:"renewal_attempts"`
	LastRenewalAttemptAt *time.Time         `json:"last_renewal_attempt_at,omitempty"`
	RenewalReminderSent  bool               `json:"renewal_reminder_sent"`
	ScheduledPlanChange  *PlanTier          `json:"scheduled_plan_change,omitempty"`
	Version              int64              `json:"version"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// IsFree reports whether the subscription is on the free tier.
func (s *Subscription) IsFree() bool {
	return s.PlanTier == PlanFree
}

// IsActive reports whether the subscription is active.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionActive
}

// CustomerRef returns the gateway customer reference, or "" when none is stored.
func (s *Subscription) CustomerRef() string {
	if s.GatewayCustomerRef == nil {
		return ""
	}
	return *s.GatewayCustomerRef
}

// Clone returns a deep copy so callers can mutate without aliasing pointer fields.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.EndAt = cloneTime(s.EndAt)
	c.NextBillingAt = cloneTime(s.NextBillingAt)
	c.LastRenewalAttemptAt = cloneTime(s.LastRenewalAttemptAt)
	if s.GatewayCustomerRef != nil {
		ref := *s.GatewayCustomerRef
		c.GatewayCustomerRef = &ref
	}
	if s.ScheduledPlanChange != nil {
		tier := *s.ScheduledPlanChange
		c.ScheduledPlanChange = &tier
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
