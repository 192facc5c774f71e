package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/restobill/renewals/internal/billing"
	"github.com/restobill/renewals/internal/domain"
	"github.com/restobill/renewals/internal/gateway"
)

const (
	purposeRenewal   = "renewal"
	purposeDowngrade = "downgrade"
)

// ChargeOutcome is the result of one charge attempt. Deferred means nothing was
// charged and the subscription must be left untouched until the next sweep.
type ChargeOutcome struct {
	Success      bool
	Deferred     bool
	Order        *gateway.ChargeResult
	ErrorMessage string
	Err          error
}

// processCharge resolves the customer's default card, tokenizes it and charges
// amount once. It is never retried within a sweep.
func (e *Engine) processCharge(ctx context.Context, sub *domain.Subscription, amount int64, purpose string, billingDate time.Time) ChargeOutcome {
	fail := func(err error) ChargeOutcome {
		if gateway.IsDeferred(err) {
			return ChargeOutcome{Deferred: true, ErrorMessage: err.Error(), Err: err}
		}
		return ChargeOutcome{ErrorMessage: err.Error(), Err: err}
	}

	customerRef := sub.CustomerRef()
	if customerRef == "" {
		return fail(&gateway.Error{Kind: gateway.KindMissingCustomer, Message: "subscription has no gateway customer"})
	}

	card, err := e.gateway.DefaultCard(ctx, customerRef)
	if err != nil {
		return fail(err)
	}

	token, err := e.gateway.TokenizeCard(ctx, customerRef, card.ID, card.CardholderName)
	if err != nil {
		return fail(err)
	}

	order, err := e.gateway.Charge(ctx, gateway.ChargeRequest{
		CustomerRef:    customerRef,
		Token:          token.ID,
		Amount:         amount,
		Currency:       e.currencyOf(sub),
		Description:    fmt.Sprintf("%s %s", sub.PlanTier, purpose),
		IdempotencyKey: billing.IdempotencyKey(purpose, sub.ID, billingDate),
	})
	if err != nil {
		return fail(err)
	}

	return ChargeOutcome{Success: true, Order: order}
}

func failedTransaction(sub *domain.Subscription, amount int64, currency string, outcome ChargeOutcome) domain.Transaction {
	msg := outcome.ErrorMessage
	return domain.Transaction{
		SubscriptionID: sub.ID,
		Type:           domain.TxRenewalFailed,
		Amount:         amount,
		Currency:       currency,
		Status:         domain.TxFailed,
		ErrorMessage:   &msg,
	}
}

func completedTransaction(sub *domain.Subscription, txType domain.TransactionType, amount int64, currency string, order *gateway.ChargeResult) domain.Transaction {
	tx := domain.Transaction{
		SubscriptionID: sub.ID,
		Type:           txType,
		Amount:         amount,
		Currency:       currency,
		Status:         domain.TxCompleted,
	}
	if order != nil && order.OrderID != "" {
		ref := order.OrderID
		tx.GatewayRef = &ref
	}
	return tx
}
