package models

import "strings"

// Contact is the system-neutral contact record. Email is the only reliable
// cross-system join key; records without one are never synced.
//
// The CRM schema carries a job-title property with no tracker counterpart.
// It is deliberately absent here and must never be written in either
// direction.
type Contact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	TrackerID string `json:"tracker_id,omitempty"`
	CRMID     string `json:"crm_id,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Mobile    string `json:"mobile,omitempty"`
	Address1  string `json:"address1,omitempty"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Country   string `json:"country,omitempty"`
}

// FullName joins first and last name, trimming when either is empty.
func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}
