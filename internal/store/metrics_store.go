package store

import (
	"context"
	"fmt"
	"time"
)

// BillingStats holds aggregated billing figures for the dashboard.
type BillingStats struct {
	SubscriptionsByTier map[string]int `json:"subscriptions_by_tier"`
	AutoRenewing        int            `json:"auto_renewing"`
	ScheduledChanges    int            `json:"scheduled_changes"`
	Renewals24h         int            `json:"renewals_24h"`
	FailedRenewals24h   int            `json:"failed_renewals_24h"`
	Downgrades24h       int            `json:"downgrades_24h"`
	Revenue24h          int64          `json:"revenue_24h"`
	RenewalSuccessRate  float64        `json:"renewal_success_rate"`
}

// GetBillingStats aggregates subscription and ledger figures as of now.
func (s *PostgresStore) GetBillingStats(ctx context.Context, now time.Time) (*BillingStats, error) {
	stats := BillingStats{SubscriptionsByTier: map[string]int{}}

	rows, err := s.pool.Query(ctx, `
		SELECT plan_tier, COUNT(*) FROM subscriptions WHERE status = 'active' GROUP BY plan_tier
	`)
	if err != nil {
		return nil, fmt.Errorf("querying tier counts: %w", err)
	}
	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning tier count: %w", err)
		}
		stats.SubscriptionsByTier[tier] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tier counts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE auto_renew = true),
			COUNT(*) FILTER (WHERE scheduled_plan_change IS NOT NULL)
		FROM subscriptions WHERE status = 'active'
	`).Scan(&stats.AutoRenewing, &stats.ScheduledChanges)
	if err != nil {
		return nil, fmt.Errorf("querying subscription counts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE type = 'renewal' AND status = 'completed'),
			COUNT(*) FILTER (WHERE type = 'renewal_failed'),
			COUNT(*) FILTER (WHERE type = 'downgrade'),
			COALESCE(SUM(amount) FILTER (WHERE type IN ('renewal', 'payment') AND status = 'completed'), 0)
		FROM transactions
		WHERE created_at > $1
	`, now.Add(-24*time.Hour)).Scan(&stats.Renewals24h, &stats.FailedRenewals24h, &stats.Downgrades24h, &stats.Revenue24h)
	if err != nil {
		return nil, fmt.Errorf("querying ledger counts: %w", err)
	}

	if attempts := stats.Renewals24h + stats.FailedRenewals24h; attempts > 0 {
		stats.RenewalSuccessRate = float64(stats.Renewals24h) / float64(attempts) * 100
	}

	return &stats, nil
}
