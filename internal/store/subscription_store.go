package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/restobill/renewals/internal/domain"
)

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
)

const subscriptionColumns = `
	id, tenant_id, plan_tier, status, start_at, end_at, next_billing_at,
	price_paid, currency, gateway_customer_ref, auto_renew, renewal_attempts,
	last_renewal_attempt_at, renewal_reminder_sent, scheduled_plan_change,
	version, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.PlanTier, &sub.Status, &sub.StartAt, &sub.EndAt, &sub.NextBillingAt,
		&sub.PricePaid, &sub.Currency, &sub.GatewayCustomerRef, &sub.AutoRenew, &sub.RenewalAttempts,
		&sub.LastRenewalAttemptAt, &sub.RenewalReminderSent, &sub.ScheduledPlanChange,
		&sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// isMissing reports whether err means no row can match, including ids that
// are not UUIDs.
func isMissing(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}

// GetSubscription returns nil, nil when the subscription does not exist or id
// is not a UUID.
func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

// GetSubscriptionByTenant returns nil, nil when the tenant has no subscription.
func (s *PostgresStore) GetSubscriptionByTenant(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1`, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription for tenant: %w", err)
	}
	return sub, nil
}

// CreateFreeSubscription onboards a tenant on the free tier.
func (s *PostgresStore) CreateFreeSubscription(ctx context.Context, tenantID, currency string) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (tenant_id, plan_tier, status, currency)
		VALUES ($1, 'free', 'active', $2)
		RETURNING `+subscriptionColumns, tenantID, currency))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return sub, nil
}

// ListReminderCandidates returns paid auto-renewing subscriptions whose end_at
// falls in [from, to) and that have not been reminded yet.
func (s *PostgresStore) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]*domain.Subscription, error) {
	return s.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active'
		  AND auto_renew = true
		  AND plan_tier <> 'free'
		  AND renewal_reminder_sent = false
		  AND end_at >= $1 AND end_at < $2
		ORDER BY end_at, id
	`, from, to)
}

// ListScheduledChanges returns subscriptions with a plan change due at asOf.
func (s *PostgresStore) ListScheduledChanges(ctx context.Context, asOf time.Time) ([]*domain.Subscription, error) {
	return s.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active'
		  AND scheduled_plan_change IS NOT NULL
		  AND (end_at IS NULL OR end_at <= $1)
		ORDER BY end_at NULLS FIRST, id
	`, asOf)
}

// ListRenewalCandidates returns paid auto-renewing subscriptions ending by cutoff
// with no scheduled change.
func (s *PostgresStore) ListRenewalCandidates(ctx context.Context, cutoff time.Time) ([]*domain.Subscription, error) {
	return s.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active'
		  AND auto_renew = true
		  AND plan_tier <> 'free'
		  AND scheduled_plan_change IS NULL
		  AND end_at <= $1
		ORDER BY end_at, id
	`, cutoff)
}

func (s *PostgresStore) listSubscriptions(ctx context.Context, query string, args ...any) ([]*domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []*domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}

// SaveSubscription writes sub and appends the ledger entries in one database
// transaction. The write only succeeds if the stored version still matches
// sub.Version; otherwise domain.ErrVersionConflict is returned and nothing is
// written. On success sub.Version and sub.UpdatedAt are refreshed.
func (s *PostgresStore) SaveSubscription(ctx context.Context, sub *domain.Subscription, ledger ...domain.Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int64
	var updatedAt time.Time
	err = tx.QueryRow(ctx, `
		UPDATE subscriptions SET
			plan_tier = $3,
			status = $4,
			end_at = $5,
			next_billing_at = $6,
			price_paid = $7,
			currency = $8,
			gateway_customer_ref = $9,
			auto_renew = $10,
			renewal_attempts = $11,
			last_renewal_attempt_at = $12,
			renewal_reminder_sent = $13,
			scheduled_plan_change = $14,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`, sub.ID, sub.Version,
		sub.PlanTier, sub.Status, sub.EndAt, sub.NextBillingAt,
		sub.PricePaid, sub.Currency, sub.GatewayCustomerRef, sub.AutoRenew, sub.RenewalAttempts,
		sub.LastRenewalAttemptAt, sub.RenewalReminderSent, sub.ScheduledPlanChange,
	).Scan(&version, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("saving subscription %s at version %d: %w", sub.ID, sub.Version, domain.ErrVersionConflict)
		}
		return fmt.Errorf("updating subscription: %w", err)
	}

	for i := range ledger {
		if err := insertTransaction(ctx, tx, &ledger[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	sub.Version = version
	sub.UpdatedAt = updatedAt
	return nil
}
