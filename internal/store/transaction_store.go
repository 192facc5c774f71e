package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/restobill/renewals/internal/domain"
)

const (
	defaultTransactionLimit = 100
	maxTransactionLimit     = 500
)

func insertTransaction(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (id, subscription_id, type, amount, currency, gateway_ref, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.SubscriptionID, t.Type, t.Amount, t.Currency, t.GatewayRef, t.Status, t.ErrorMessage,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting %s transaction: %w", t.Type, err)
	}
	return nil
}

// clampLimit applies the default page size and caps oversized requests.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultTransactionLimit
	case limit > maxTransactionLimit:
		return maxTransactionLimit
	}
	return limit
}

// ListTransactions returns the newest ledger entries for a subscription first.
func (s *PostgresStore) ListTransactions(ctx context.Context, subscriptionID string, limit int) ([]domain.Transaction, error) {
	limit = clampLimit(limit)

	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, type, amount, currency, gateway_ref, status, error_message, created_at
		FROM transactions
		WHERE subscription_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		err := rows.Scan(&t.ID, &t.SubscriptionID, &t.Type, &t.Amount, &t.Currency,
			&t.GatewayRef, &t.Status, &t.ErrorMessage, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}
	return txs, nil
}
