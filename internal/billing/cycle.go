// Package billing holds the pure billing-cycle rules: when a subscription is due
// for renewal, for a reminder, or for a scheduled plan change.
package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/restobill/renewals/internal/domain"
)

const (
	// DefaultMaxAttempts is the number of charge attempts before a forced downgrade.
	DefaultMaxAttempts = 1
	// CycleLength is the fixed billing period. No calendar-month arithmetic.
	CycleLength = 30 * 24 * time.Hour
	// RenewalLead is how far ahead of end_at a renewal is attempted.
	RenewalLead = 24 * time.Hour
	// ReminderWindowStart and ReminderWindowEnd bound the reminder window relative to now.
	ReminderWindowStart = 3 * 24 * time.Hour
	ReminderWindowEnd   = 4 * 24 * time.Hour
	// DefaultRetryInterval separates attempts when MaxAttempts > 1.
	DefaultRetryInterval = 24 * time.Hour
)

// Policy configures the renewal rules.
type Policy struct {
	MaxAttempts   int
	RetryInterval time.Duration
}

// DefaultPolicy returns the single-attempt policy.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, RetryInterval: DefaultRetryInterval}
}

// Calculator evaluates eligibility. It has no side effects.
type Calculator struct {
	policy Policy
}

// NewCalculator creates a calculator. Non-positive values fall back to defaults.
func NewCalculator(policy Policy) *Calculator {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.RetryInterval <= 0 {
		policy.RetryInterval = DefaultRetryInterval
	}
	return &Calculator{policy: policy}
}

// Policy returns the effective policy.
func (c *Calculator) Policy() Policy {
	return c.policy
}

// IsDueForRenewal reports whether a paid, auto-renewing subscription should be charged now.
func (c *Calculator) IsDueForRenewal(now time.Time, sub *domain.Subscription) bool {
	if !sub.AutoRenew || sub.IsFree() || !sub.IsActive() {
		return false
	}
	if sub.ScheduledPlanChange != nil || sub.EndAt == nil {
		return false
	}
	if sub.RenewalAttempts >= c.policy.MaxAttempts {
		return false
	}
	if sub.RenewalAttempts > 0 && sub.LastRenewalAttemptAt != nil &&
		sub.LastRenewalAttemptAt.After(now.Add(-c.policy.RetryInterval)) {
		return false
	}
	return !sub.EndAt.After(now.Add(RenewalLead))
}

// IsExhausted reports whether a paid subscription has used up its charge
// attempts and its period has ended, so it can no longer renew. This happens
// when the attempt limit is lowered while subscriptions are mid-retry.
func (c *Calculator) IsExhausted(now time.Time, sub *domain.Subscription) bool {
	if !sub.AutoRenew || sub.IsFree() || !sub.IsActive() {
		return false
	}
	if sub.ScheduledPlanChange != nil || sub.EndAt == nil {
		return false
	}
	return sub.RenewalAttempts >= c.policy.MaxAttempts && !sub.EndAt.After(now)
}

// IsDueForReminder reports whether end_at falls in [now+3d, now+4d) and no reminder went out yet.
func (c *Calculator) IsDueForReminder(now time.Time, sub *domain.Subscription) bool {
	if !sub.AutoRenew || sub.IsFree() || sub.RenewalReminderSent || sub.EndAt == nil {
		return false
	}
	from, to := ReminderWindow(now)
	return !sub.EndAt.Before(from) && sub.EndAt.Before(to)
}

// IsDowngradeDue reports whether a scheduled plan change should be applied.
// A scheduled change without an end date is due immediately.
func (c *Calculator) IsDowngradeDue(now time.Time, sub *domain.Subscription) bool {
	if sub.ScheduledPlanChange == nil {
		return false
	}
	if sub.EndAt == nil {
		return true
	}
	return !sub.EndAt.After(now)
}

// NextCycleEnd returns the end of a cycle starting at now.
func NextCycleEnd(now time.Time) time.Time {
	return now.Add(CycleLength)
}

// RenewalCutoff is the latest end_at a renewal candidate may have.
func RenewalCutoff(now time.Time) time.Time {
	return now.Add(RenewalLead)
}

// ReminderWindow returns the half-open [from, to) range of end_at values due a reminder.
func ReminderWindow(now time.Time) (time.Time, time.Time) {
	return now.Add(ReminderWindowStart), now.Add(ReminderWindowEnd)
}

// IdempotencyKey derives the charge key for one subscription and billing date.
// Two invocations for the same cycle always produce the same key.
func IdempotencyKey(purpose, subscriptionID string, billingDate time.Time) string {
	key := fmt.Sprintf("%s-%s-%s", purpose, subscriptionID, billingDate.UTC().Format("2006-01-02"))
	return strings.ToLower(strings.ReplaceAll(key, " ", "-"))
}
