package domain

import "time"

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxPayment       TransactionType = "payment"
	TxRenewal       TransactionType = "renewal"
	TxRenewalFailed TransactionType = "renewal_failed"
	TxDowngrade     TransactionType = "downgrade"
)

// TransactionStatus is the outcome recorded for a ledger entry.
type TransactionStatus string

const (
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxPending   TransactionStatus = "pending"
)

// Transaction is an append-only billing ledger entry.
type Transaction struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscription_id"`
	Type           TransactionType   `json:"type"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	GatewayRef     *string           `json:"gateway_ref,omitempty"`
	Status         TransactionStatus `json:"status"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
