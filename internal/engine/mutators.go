package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/restobill/renewals/internal/domain"
)

type scheduleDowngradeInput struct {
	SubscriptionID string `validate:"required"`
	TargetTier     string `validate:"required,oneof=free tier1 tier2"`
}

type cancelDowngradeInput struct {
	SubscriptionID string `validate:"required"`
}

// ScheduleDowngrade records a move to a cheaper tier at the end of the current
// period. The subscription must be active and the target must rank below the
// current tier.
func (e *Engine) ScheduleDowngrade(ctx context.Context, subscriptionID string, target domain.PlanTier) (*domain.Subscription, error) {
	in := scheduleDowngradeInput{SubscriptionID: subscriptionID, TargetTier: string(target)}
	if err := e.validateInput(in); err != nil {
		return nil, err
	}

	sub, err := e.load(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() {
		return nil, domain.Invalid("subscription_id", "subscription is not active")
	}
	if !target.Below(sub.PlanTier) {
		return nil, domain.Invalid("target_tier", fmt.Sprintf("%s is not below current plan %s", target, sub.PlanTier))
	}
	if sub.ScheduledPlanChange != nil && *sub.ScheduledPlanChange == target {
		return sub, nil
	}

	updated := sub.Clone()
	updated.ScheduledPlanChange = &target
	if err := e.store.SaveSubscription(ctx, updated); err != nil {
		return nil, fmt.Errorf("scheduling downgrade: %w", err)
	}

	e.logger.Info("downgrade scheduled",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
		"from", sub.PlanTier,
		"to", target,
	)
	return updated, nil
}

// CancelScheduledDowngrade clears a pending plan change. It is a no-op when none is set.
func (e *Engine) CancelScheduledDowngrade(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	if err := e.validateInput(cancelDowngradeInput{SubscriptionID: subscriptionID}); err != nil {
		return nil, err
	}

	sub, err := e.load(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.ScheduledPlanChange == nil {
		return sub, nil
	}

	updated := sub.Clone()
	updated.ScheduledPlanChange = nil
	if err := e.store.SaveSubscription(ctx, updated); err != nil {
		return nil, fmt.Errorf("cancelling scheduled downgrade: %w", err)
	}

	e.logger.Info("scheduled downgrade cancelled",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
	)
	return updated, nil
}

func (e *Engine) load(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	sub, err := e.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("loading subscription: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %s: %w", subscriptionID, domain.ErrNotFound)
	}
	return sub, nil
}

func (e *Engine) validateInput(in any) error {
	err := e.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return domain.Invalid(fieldName(fe.Field()), fmt.Sprintf("failed %q check", fe.Tag()))
	}
	return domain.Invalid("", err.Error())
}

func fieldName(field string) string {
	switch field {
	case "SubscriptionID":
		return "subscription_id"
	case "TargetTier":
		return "target_tier"
	}
	return field
}
