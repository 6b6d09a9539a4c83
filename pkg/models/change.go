package models

import "time"

// Tracked change status values.
const (
	ChangePending = "pending"
	ChangeSynced  = "synced"
	ChangeFailed  = "failed"
)

// TrackedChange is one detected modification queued by the change detector
// for the event-driven sync path. The (source, record_id, detected_at)
// uniqueness constraint makes duplicate detection of the same instant a
// no-op.
type TrackedChange struct {
	ID           int64      `json:"id"`
	Source       string     `json:"source"`
	RecordID     string     `json:"record_id"`
	RecordName   string     `json:"record_name"`
	ChangeType   string     `json:"change_type"`
	DetectedAt   time.Time  `json:"detected_at"`
	SyncedAt     *time.Time `json:"synced_at,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ChangeStats summarizes the change-tracking queue.
type ChangeStats struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Last24h int `json:"changes_last_24h"`
}
