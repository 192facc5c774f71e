package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/restobill/renewals/internal/billing"
	"github.com/restobill/renewals/internal/domain"
	"github.com/restobill/renewals/internal/gateway"
	"github.com/restobill/renewals/internal/metrics"
)

// applyScheduledDowngrades applies every plan change whose period has ended.
// A paid target is charged first; if that fails the tenant drops to free, so a
// scheduled change is always consumed.
func (e *Engine) applyScheduledDowngrades(ctx context.Context, now time.Time, report *SweepReport) error {
	subs, err := e.store.ListScheduledChanges(ctx, now)
	if err != nil {
		e.logger.Error("listing scheduled plan changes failed", "error", err)
		return fmt.Errorf("listing scheduled plan changes: %w", err)
	}

	e.forEach(ctx, "downgrades", subs, report, func(ctx context.Context, sub *domain.Subscription) error {
		if !e.calc.IsDowngradeDue(now, sub) {
			return nil
		}
		return e.applyScheduledChange(ctx, now, sub, report)
	})
	return nil
}

func (e *Engine) applyScheduledChange(ctx context.Context, now time.Time, sub *domain.Subscription, report *SweepReport) error {
	target, err := e.catalog.Plan(*sub.ScheduledPlanChange)
	if err != nil {
		return fmt.Errorf("resolving scheduled plan: %w", err)
	}

	if target.IsFree() {
		if err := e.applyPlanChange(ctx, now, sub, target, nil); err != nil {
			return err
		}
		report.DowngradesApplied++
		e.metrics.Outcome(metrics.OutcomeDowngrade)
		return nil
	}

	billingDate := now
	if sub.EndAt != nil {
		billingDate = *sub.EndAt
	}
	currency := e.currencyOf(sub)
	outcome := e.processCharge(ctx, sub, target.MonthlyPrice, purposeDowngrade, billingDate)

	switch {
	case outcome.Deferred:
		report.Skipped++
		e.metrics.Outcome(metrics.OutcomeSkipped)
		e.logger.Warn("scheduled plan change deferred",
			"subscription_id", sub.ID,
			"tenant_id", sub.TenantID,
			"reason", outcome.ErrorMessage,
		)
		return nil

	case outcome.Success:
		end := billing.NextCycleEnd(now)
		payment := completedTransaction(sub, domain.TxPayment, target.MonthlyPrice, currency, outcome.Order)
		if err := e.applyPlanChange(ctx, now, sub, target, &end, payment); err != nil {
			e.logger.Error("charge captured but plan change not recorded",
				"subscription_id", sub.ID,
				"order_id", outcome.Order.OrderID,
				"error", err,
			)
			return err
		}
		if !outcome.Order.Replayed {
			e.metrics.Charged(currency, target.MonthlyPrice)
		}
		report.DowngradesApplied++
		e.metrics.Outcome(metrics.OutcomeDowngrade)
		return nil

	default:
		failed := failedTransaction(sub, target.MonthlyPrice, currency, outcome)
		report.RenewalsFailed++
		e.metrics.Outcome(metrics.OutcomeFailed)
		e.logger.Warn("scheduled plan change charge failed",
			"subscription_id", sub.ID,
			"tenant_id", sub.TenantID,
			"target_tier", target.Tier,
			"kind", gateway.KindOf(outcome.Err),
			"error", outcome.ErrorMessage,
		)
		e.publish(domain.BillingEvent{
			Type:           domain.EventRenewalFailed,
			SubscriptionID: sub.ID,
			TenantID:       sub.TenantID,
			PlanTier:       target.Tier,
			Amount:         target.MonthlyPrice,
			Error:          outcome.ErrorMessage,
		})

		updated := sub.Clone()
		updated.LastRenewalAttemptAt = &now
		if err := e.degradeToFree(ctx, now, updated, outcome.ErrorMessage, failed); err != nil {
			return err
		}
		report.DegradedToFree++
		return nil
	}
}

// applyPlanChange moves sub onto target with the given period end (nil for
// free). Ledger entries are written with the subscription; a free change adds
// its own zero-amount downgrade entry. Campaigns are re-checked when the new
// plan allows fewer of them.
func (e *Engine) applyPlanChange(ctx context.Context, now time.Time, sub *domain.Subscription, target domain.Plan,
	newEnd *time.Time, ledger ...domain.Transaction) error {
	updated := sub.Clone()
	updated.PlanTier = target.Tier
	updated.PricePaid = target.MonthlyPrice
	updated.AutoRenew = target.Tier != domain.PlanFree
	updated.ScheduledPlanChange = nil
	updated.RenewalAttempts = 0
	updated.RenewalReminderSent = false
	if target.Tier == domain.PlanFree {
		newEnd = nil
	}
	updated.EndAt = newEnd
	updated.NextBillingAt = newEnd

	if target.Tier == domain.PlanFree {
		ledger = append(ledger, domain.Transaction{
			SubscriptionID: sub.ID,
			Type:           domain.TxDowngrade,
			Amount:         0,
			Currency:       e.currencyOf(sub),
			Status:         domain.TxCompleted,
		})
	}

	if err := e.store.SaveSubscription(ctx, updated, ledger...); err != nil {
		return fmt.Errorf("applying plan change: %w", err)
	}

	e.logger.Info("plan changed",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
		"from", sub.PlanTier,
		"to", target.Tier,
	)
	e.publish(domain.BillingEvent{
		Type:           domain.EventPlanChanged,
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		PlanTier:       target.Tier,
		Amount:         target.MonthlyPrice,
		Timestamp:      now,
	})

	previous, err := e.catalog.Plan(sub.PlanTier)
	if err != nil || target.LowerCampaignLimitThan(previous) {
		// The change is committed; enforce records failures for reconciliation.
		_ = e.enforce(ctx, sub.TenantID)
	}
	return nil
}

// degradeToFree forces sub onto the free tier after a failed charge. The
// subscription, the given ledger entries and a downgrade entry are written in
// one transaction, then the tenant's campaigns are brought within the free limit
// before returning.
func (e *Engine) degradeToFree(ctx context.Context, now time.Time, sub *domain.Subscription, reason string,
	ledger ...domain.Transaction) error {
	updated := sub.Clone()
	updated.PlanTier = domain.PlanFree
	updated.PricePaid = 0
	updated.AutoRenew = false
	updated.RenewalAttempts = 0
	updated.ScheduledPlanChange = nil
	updated.EndAt = nil
	updated.NextBillingAt = nil
	updated.RenewalReminderSent = false

	ledger = append(ledger, domain.Transaction{
		SubscriptionID: sub.ID,
		Type:           domain.TxDowngrade,
		Amount:         0,
		Currency:       e.currencyOf(sub),
		Status:         domain.TxCompleted,
	})

	if err := e.store.SaveSubscription(ctx, updated, ledger...); err != nil {
		return fmt.Errorf("degrading to free: %w", err)
	}

	e.metrics.Outcome(metrics.OutcomeDegraded)
	e.logger.Warn("subscription degraded to free",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
		"previous_tier", sub.PlanTier,
		"reason", reason,
	)
	e.publish(domain.BillingEvent{
		Type:           domain.EventDegradedToFree,
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		PlanTier:       domain.PlanFree,
		Error:          reason,
		Timestamp:      now,
	})

	if err := e.enforce(ctx, sub.TenantID); err != nil {
		e.logger.Warn("downgrade committed, campaign enforcement deferred",
			"subscription_id", sub.ID,
			"tenant_id", sub.TenantID,
		)
	}
	return nil
}
