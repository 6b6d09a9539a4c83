package models

import "time"

// ReconciliationReport is the aggregate result of one full-population audit.
// AutoFixed is always zero in the current design; the auditor observes and
// records, it never repairs.
type ReconciliationReport struct {
	ID           int64     `json:"id"`
	RunAt        time.Time `json:"run_at"`
	TrackerTotal int       `json:"tracker_total"`
	CRMTotal     int       `json:"crm_total"`
	Matched      int       `json:"matched"`
	TrackerOnly  int       `json:"tracker_only"`
	CRMOnly      int       `json:"crm_only"`
	Mismatched   int       `json:"mismatched"`
	AutoFixed    int       `json:"auto_fixed"`
	Status       string    `json:"status"`
	Details      string    `json:"details"`
}
