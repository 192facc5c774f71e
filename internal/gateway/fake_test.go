package gateway

import (
	"context"
	"sync/atomic"
)

// fakeClient is a Client with overridable behaviour and call counters.
type fakeClient struct {
	defaultCardFunc func(ctx context.Context, customerRef string) (*Card, error)
	tokenizeFunc    func(ctx context.Context, customerRef, cardID, name string) (*Token, error)
	chargeFunc      func(ctx context.Context, req ChargeRequest) (*ChargeResult, error)

	charges atomic.Int32
}

func (f *fakeClient) DefaultCard(ctx context.Context, customerRef string) (*Card, error) {
	if f.defaultCardFunc != nil {
		return f.defaultCardFunc(ctx, customerRef)
	}
	return &Card{ID: "card_1", CardholderName: "Test"}, nil
}

func (f *fakeClient) TokenizeCard(ctx context.Context, customerRef, cardID, name string) (*Token, error) {
	if f.tokenizeFunc != nil {
		return f.tokenizeFunc(ctx, customerRef, cardID, name)
	}
	return &Token{ID: "tok_1"}, nil
}

func (f *fakeClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	f.charges.Add(1)
	if f.chargeFunc != nil {
		return f.chargeFunc(ctx, req)
	}
	return &ChargeResult{OrderID: "chg_1", Status: ChargeCaptured}, nil
}
