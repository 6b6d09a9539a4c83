package models

import "time"

// Activity status values.
const (
	ActivityRunning   = "running"
	ActivityCompleted = "completed"
	ActivityFailed    = "failed"
)

// SyncActivity is the parent audit row for one sync cycle.
type SyncActivity struct {
	ID                 int64      `json:"id"`
	ActivityType       string     `json:"activity_type"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Status             string     `json:"status"`
	CompaniesProcessed int        `json:"companies_processed"`
	ContactsProcessed  int        `json:"contacts_processed"`
	ChangesMade        int        `json:"changes_made"`
	Errors             int        `json:"errors"`
	Summary            string     `json:"summary"`
}

// FieldChange is one before/after comparison for a single field during a
// cycle. A row is written for every field compared, with Changed=false when
// the values matched, so the trail proves a field was checked rather than
// skipped.
type FieldChange struct {
	ID               int64     `json:"id"`
	ActivityID       int64     `json:"activity_id"`
	CompanyName      string    `json:"company_name"`
	TrackerCompanyID string    `json:"tracker_company_id"`
	CRMCompanyID     string    `json:"crm_company_id"`
	EntityType       string    `json:"entity_type"`
	FieldName        string    `json:"field_name"`
	SystemChanged    string    `json:"system_changed"`
	OldValue         string    `json:"old_value"`
	NewValue         string    `json:"new_value"`
	Changed          bool      `json:"changed"`
	CreatedAt        time.Time `json:"created_at"`
}
