package domain

import "time"

// CampaignStatus is owned by the campaign subsystem; billing only ever sets CampaignPaused.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign is the subset of a marketing campaign that entitlement enforcement reads.
type Campaign struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Status    CampaignStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// CountsTowardConcurrency reports whether the campaign occupies a concurrency slot.
func (c Campaign) CountsTowardConcurrency() bool {
	return c.Status == CampaignRunning || c.Status == CampaignScheduled
}
