package domain

import "time"

// BillingEventType names an activity-feed event.
type BillingEventType string

const (
	EventRenewalSucceeded BillingEventType = "renewal_succeeded"
	EventRenewalFailed    BillingEventType = "renewal_failed"
	EventDegradedToFree   BillingEventType = "degraded_to_free"
	EventPlanChanged      BillingEventType = "plan_changed"
	EventReminderQueued   BillingEventType = "reminder_queued"
	EventSweepCompleted   BillingEventType = "sweep_completed"
)

// BillingEvent is a real-time billing update for dashboard clients.
type BillingEvent struct {
	Type           BillingEventType `json:"type"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	TenantID       string           `json:"tenant_id,omitempty"`
	PlanTier       PlanTier         `json:"plan_tier,omitempty"`
	Amount         int64            `json:"amount,omitempty"`
	Error          string           `json:"error,omitempty"`
	Data           any              `json:"data,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}
