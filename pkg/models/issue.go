package models

import "time"

// ReconciliationIssue is an append-only observation of something a sync or
// audit pass could not handle cleanly. Resolved is advisory and only ever
// set by a human; no engine code path flips it.
type ReconciliationIssue struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Source     string    `json:"source"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	IssueType  string    `json:"issue_type"`
	Detail     string    `json:"detail"`
	Resolved   bool      `json:"resolved"`
}
