package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeClient is a Client backed by Stripe. Stripe charges saved payment
// methods directly, so TokenizeCard hands back the payment method id after
// confirming it is still attached to the customer.
type StripeClient struct {
	api    *client.API
	logger *slog.Logger
}

// NewStripeClient creates a Stripe-backed client. A nil backends uses Stripe's
// production endpoints.
func NewStripeClient(secretKey string, backends *stripe.Backends, logger *slog.Logger) *StripeClient {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeClient{api: api, logger: logger}
}

// NewStripeBackends builds Stripe backends whose requests give up after
// timeout. Network retries are disabled so a charge is attempted once. An empty
// baseURL keeps Stripe's default endpoints.
func NewStripeBackends(baseURL string, timeout time.Duration) *stripe.Backends {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	backend := func(t stripe.SupportedBackend) stripe.Backend {
		cfg := &stripe.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(0),
		}
		if baseURL != "" {
			cfg.URL = stripe.String(baseURL)
		}
		return stripe.GetBackendWithConfig(t, cfg)
	}
	return &stripe.Backends{
		API:     backend(stripe.APIBackend),
		Connect: backend(stripe.ConnectBackend),
		Uploads: backend(stripe.UploadsBackend),
	}
}

// DefaultCard resolves the customer's invoice default payment method, falling
// back to the first attached card.
func (c *StripeClient) DefaultCard(ctx context.Context, customerRef string) (*Card, error) {
	if customerRef == "" {
		return nil, newError(KindMissingCustomer, "no gateway customer reference", nil)
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddExpand("invoice_settings.default_payment_method")
	cust, err := c.api.Customers.Get(customerRef, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ErrNoCard
		}
		return nil, stripeError(KindNoCard, "fetching customer", err)
	}
	if cust.Deleted {
		return nil, ErrNoCard
	}

	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		return cardFromPaymentMethod(cust.InvoiceSettings.DefaultPaymentMethod), nil
	}

	listParams := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerRef),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	listParams.Context = ctx
	iter := c.api.PaymentMethods.List(listParams)
	if iter.Next() {
		return cardFromPaymentMethod(iter.PaymentMethod()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, stripeError(KindNoCard, "listing payment methods", err)
	}
	return nil, ErrNoCard
}

// TokenizeCard verifies the payment method belongs to the customer and returns its id.
func (c *StripeClient) TokenizeCard(ctx context.Context, customerRef, cardID, _ string) (*Token, error) {
	pmParams := &stripe.PaymentMethodParams{}
	pmParams.Context = ctx
	pm, err := c.api.PaymentMethods.Get(cardID, pmParams)
	if err != nil {
		return nil, stripeError(KindTokenization, "fetching payment method", err)
	}
	if pm.Customer == nil || pm.Customer.ID != customerRef {
		return nil, newError(KindTokenization, fmt.Sprintf("payment method %s not attached to %s", cardID, customerRef), nil)
	}
	return &Token{ID: pm.ID}, nil
}

// Charge creates and confirms an off-session PaymentIntent.
func (c *StripeClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.Token),
		Description:   stripe.String(req.Description),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, stripeError(KindDeclined, "creating payment intent", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		c.logger.Info("stripe payment intent succeeded",
			"payment_intent", pi.ID,
			"amount", req.Amount,
			"idempotency_key", req.IdempotencyKey,
		)
		return &ChargeResult{OrderID: pi.ID, Status: ChargeCaptured}, nil
	case stripe.PaymentIntentStatusProcessing:
		return nil, newError(KindDeclined, fmt.Sprintf("payment intent %s still processing", pi.ID), nil)
	default:
		return nil, newError(KindDeclined, fmt.Sprintf("payment intent %s %s", pi.ID, pi.Status), nil)
	}
}

func cardFromPaymentMethod(pm *stripe.PaymentMethod) *Card {
	card := &Card{ID: pm.ID}
	if pm.BillingDetails != nil {
		card.CardholderName = pm.BillingDetails.Name
	}
	return card
}

func isResourceMissing(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing
}

// stripeError maps Stripe errors onto gateway kinds: card errors keep the
// caller's kind, API/connection failures become transport errors.
func stripeError(kind ErrorKind, msg string, err error) *Error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.Type == stripe.ErrorTypeCard || se.Type == stripe.ErrorTypeInvalidRequest {
			return newError(kind, fmt.Sprintf("%s: %s", msg, se.Msg), err)
		}
		return newError(KindTransport, fmt.Sprintf("%s: %s", msg, se.Msg), err)
	}
	return newError(KindTransport, msg, err)
}
