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

func (e *Engine) processRenewals(ctx context.Context, now time.Time, report *SweepReport) error {
	subs, err := e.store.ListRenewalCandidates(ctx, billing.RenewalCutoff(now))
	if err != nil {
		e.logger.Error("listing renewal candidates failed", "error", err)
		return fmt.Errorf("listing renewal candidates: %w", err)
	}

	e.forEach(ctx, "renewals", subs, report, func(ctx context.Context, sub *domain.Subscription) error {
		if e.calc.IsExhausted(now, sub) {
			if err := e.degradeToFree(ctx, now, sub, "renewal attempts exhausted"); err != nil {
				return err
			}
			report.DegradedToFree++
			return nil
		}
		if !e.calc.IsDueForRenewal(now, sub) {
			return nil
		}
		return e.renew(ctx, now, sub, report)
	})
	return nil
}

func (e *Engine) renew(ctx context.Context, now time.Time, sub *domain.Subscription, report *SweepReport) error {
	plan, err := e.catalog.Plan(sub.PlanTier)
	if err != nil {
		return err
	}
	price := plan.MonthlyPrice
	currency := e.currencyOf(sub)

	outcome := e.processCharge(ctx, sub, price, purposeRenewal, *sub.EndAt)

	if outcome.Deferred {
		report.Skipped++
		e.metrics.Outcome(metrics.OutcomeSkipped)
		e.logger.Warn("renewal deferred",
			"subscription_id", sub.ID,
			"tenant_id", sub.TenantID,
			"reason", outcome.ErrorMessage,
		)
		return nil
	}

	if outcome.Success {
		updated := sub.Clone()
		end := billing.NextCycleEnd(now)
		updated.EndAt = &end
		updated.NextBillingAt = &end
		updated.PricePaid = price
		updated.RenewalAttempts = 0
		updated.LastRenewalAttemptAt = &now
		updated.RenewalReminderSent = false

		tx := completedTransaction(sub, domain.TxRenewal, price, currency, outcome.Order)
		if err := e.store.SaveSubscription(ctx, updated, tx); err != nil {
			// The next sweep derives the same idempotency key and replays the charge.
			e.logger.Error("charge captured but renewal not recorded",
				"subscription_id", sub.ID,
				"tenant_id", sub.TenantID,
				"order_id", outcome.Order.OrderID,
				"error", err,
			)
			return fmt.Errorf("recording renewal: %w", err)
		}

		report.Renewed++
		e.metrics.Outcome(metrics.OutcomeRenewed)
		if !outcome.Order.Replayed {
			e.metrics.Charged(currency, price)
		}
		e.logger.Info("subscription renewed",
			"subscription_id", sub.ID,
			"tenant_id", sub.TenantID,
			"plan_tier", sub.PlanTier,
			"amount", price,
			"order_id", outcome.Order.OrderID,
			"end_at", end,
		)
		e.publish(domain.BillingEvent{
			Type:           domain.EventRenewalSucceeded,
			SubscriptionID: sub.ID,
			TenantID:       sub.TenantID,
			PlanTier:       sub.PlanTier,
			Amount:         price,
		})
		return nil
	}

	updated := sub.Clone()
	updated.RenewalAttempts++
	updated.LastRenewalAttemptAt = &now
	failed := failedTransaction(sub, price, currency, outcome)

	report.RenewalsFailed++
	e.metrics.Outcome(metrics.OutcomeFailed)
	e.logger.Warn("renewal charge failed",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
		"attempt", updated.RenewalAttempts,
		"kind", gateway.KindOf(outcome.Err),
		"error", outcome.ErrorMessage,
	)
	e.publish(domain.BillingEvent{
		Type:           domain.EventRenewalFailed,
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		PlanTier:       sub.PlanTier,
		Amount:         price,
		Error:          outcome.ErrorMessage,
	})

	if updated.RenewalAttempts >= e.calc.Policy().MaxAttempts {
		if err := e.degradeToFree(ctx, now, updated, outcome.ErrorMessage, failed); err != nil {
			return err
		}
		report.DegradedToFree++
		return nil
	}

	if err := e.store.SaveSubscription(ctx, updated, failed); err != nil {
		return fmt.Errorf("recording failed renewal: %w", err)
	}
	return nil
}
