// Package gateway talks to the payment processor. Every backend normalizes its
// responses into the types below so nothing processor-specific leaks inward.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Card is a stored payment instrument.
type Card struct {
	ID             string `json:"card_id"`
	CardholderName string `json:"cardholder_name"`
}

// Token is a short-lived charge token for a stored card.
type Token struct {
	ID string `json:"token"`
}

// ChargeRequest describes a single charge.
type ChargeRequest struct {
	CustomerRef    string
	Token          string
	Amount         int64 // minor units
	Currency       string
	Description    string
	IdempotencyKey string
}

// ChargeStatus is the normalized outcome of a charge.
type ChargeStatus string

const (
	ChargeCaptured ChargeStatus = "captured"
	ChargeDeclined ChargeStatus = "declined"
	ChargePending  ChargeStatus = "pending"
)

// ChargeResult is the normalized gateway order.
type ChargeResult struct {
	OrderID  string       `json:"order_id"`
	Status   ChargeStatus `json:"status"`
	Replayed bool         `json:"replayed,omitempty"`
}

// Client is the payment gateway capability the renewal engine consumes.
type Client interface {
	DefaultCard(ctx context.Context, customerRef string) (*Card, error)
	TokenizeCard(ctx context.Context, customerRef, cardID, cardholderName string) (*Token, error)
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindMissingCustomer ErrorKind = "missing_customer"
	KindNoCard          ErrorKind = "no_card"
	KindTokenization    ErrorKind = "tokenization"
	KindDeclined        ErrorKind = "declined"
	KindTransport       ErrorKind = "transport"
)

var (
	// ErrNoCard is returned when the customer has no default card on file.
	ErrNoCard = &Error{Kind: KindNoCard, Message: "no stored card"}
	// ErrChargeInFlight is returned when another process holds the idempotency key.
	ErrChargeInFlight = errors.New("charge already in flight for this idempotency key")
)

// Error is a gateway failure. All of them resolve to a failed renewal.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so errors.Is(err, ErrNoCard) works for any no-card error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the gateway error kind of err, or "" when err is not a gateway error.
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}
