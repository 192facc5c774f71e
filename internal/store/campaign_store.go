package store

import (
	"context"
	"fmt"

	"github.com/restobill/renewals/internal/domain"
)

// ListActiveCampaigns returns the tenant's running and scheduled campaigns.
func (s *PostgresStore) ListActiveCampaigns(ctx context.Context, tenantID string) ([]domain.Campaign, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, status, created_at
		FROM campaigns
		WHERE tenant_id = $1 AND status IN ('running', 'scheduled')
		ORDER BY created_at DESC, id DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []domain.Campaign{}
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating campaigns: %w", err)
	}
	return campaigns, nil
}

// PauseCampaigns pauses the given campaigns of a tenant. Campaigns that are no
// longer running or scheduled are left alone. Returns the number paused.
func (s *PostgresStore) PauseCampaigns(ctx context.Context, tenantID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaigns SET status = 'paused', updated_at = NOW()
		WHERE tenant_id = $1 AND id = ANY($2) AND status IN ('running', 'scheduled')
	`, tenantID, ids)
	if err != nil {
		return 0, fmt.Errorf("pausing campaigns: %w", err)
	}
	return tag.RowsAffected(), nil
}
