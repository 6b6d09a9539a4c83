package models

// Company is the system-neutral company record shuttled between the tracker
// and the CRM. Tier is tracker vocabulary, Priority is CRM vocabulary; the
// two are related by the configured translation table.
type Company struct {
	Name          string `json:"name"`
	TrackerID     string `json:"tracker_id,omitempty"`
	CRMID         string `json:"crm_id,omitempty"`
	AccountStatus string `json:"account_status,omitempty"`
	AffinityScore string `json:"affinity_score,omitempty"`
	AccountTier   string `json:"account_tier,omitempty"`
}

// Source systems records can originate from.
const (
	SourceTracker = "tracker"
	SourceCRM     = "crm"
)

// Entity types used across the audit trail and issue log.
const (
	EntityCompany = "company"
	EntityContact = "contact"
)
