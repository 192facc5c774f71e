package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/restobill/renewals/internal/billing"
	"github.com/restobill/renewals/internal/domain"
	"github.com/restobill/renewals/internal/metrics"
	"github.com/restobill/renewals/internal/notify"
)

// sendReminders flags subscriptions renewing in three to four days and queues
// their reminder. The flag is persisted first so a reminder goes out at most
// once per cycle; queueing failures are only logged.
func (e *Engine) sendReminders(ctx context.Context, now time.Time, report *SweepReport) error {
	from, to := billing.ReminderWindow(now)
	subs, err := e.store.ListReminderCandidates(ctx, from, to)
	if err != nil {
		e.logger.Error("listing reminder candidates failed", "error", err)
		return fmt.Errorf("listing reminder candidates: %w", err)
	}

	e.forEach(ctx, "reminders", subs, report, func(ctx context.Context, sub *domain.Subscription) error {
		if !e.calc.IsDueForReminder(now, sub) {
			return nil
		}

		updated := sub.Clone()
		updated.RenewalReminderSent = true
		if err := e.store.SaveSubscription(ctx, updated); err != nil {
			return fmt.Errorf("flagging reminder: %w", err)
		}

		job := notify.ReminderJob{
			SubscriptionID: sub.ID,
			TenantID:       sub.TenantID,
			PlanTier:       string(sub.PlanTier),
			Amount:         e.priceOf(sub.PlanTier, sub.PricePaid),
			Currency:       e.currencyOf(sub),
			RenewsAt:       *sub.EndAt,
			QueuedAt:       now,
		}
		if err := e.notifier.QueueRenewalReminder(ctx, job); err != nil {
			e.logger.Warn("renewal reminder not queued",
				"subscription_id", sub.ID,
				"tenant_id", sub.TenantID,
				"error", err,
			)
		}

		report.RemindersSent++
		e.metrics.Outcome(metrics.OutcomeReminder)
		e.publish(domain.BillingEvent{
			Type:           domain.EventReminderQueued,
			SubscriptionID: sub.ID,
			TenantID:       sub.TenantID,
			PlanTier:       sub.PlanTier,
			Amount:         job.Amount,
		})
		return nil
	})
	return nil
}

// priceOf returns the catalog price of tier, or fallback when the tier is unknown.
func (e *Engine) priceOf(tier domain.PlanTier, fallback int64) int64 {
	plan, err := e.catalog.Plan(tier)
	if err != nil {
		return fallback
	}
	return plan.MonthlyPrice
}
