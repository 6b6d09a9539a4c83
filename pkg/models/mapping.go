package models

import "time"

// Sync status values for identity mappings.
const (
	SyncStatusActive   = "active"
	SyncStatusInactive = "inactive"
)

// CompanyMapping links a tracker company task to its CRM company record.
// Rows are never physically deleted by the sync flow; a stale link is
// soft-disabled via SyncStatus and reactivated on the next successful link.
type CompanyMapping struct {
	TrackerCompanyID string     `json:"tracker_company_id"`
	CRMCompanyID     string     `json:"crm_company_id"`
	CompanyName      string     `json:"company_name"`
	SyncStatus       string     `json:"sync_status"`
	LastSynced       *time.Time `json:"last_synced,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	Notes            string     `json:"notes,omitempty"`
}
