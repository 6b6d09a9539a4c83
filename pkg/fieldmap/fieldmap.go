// Package fieldmap holds the static translation layer between the two
// systems' vocabularies: the company marker convention on tracker task
// titles and the tier/priority value tables.
package fieldmap

import "strings"

// Marker is the title convention identifying which tracker tasks represent
// companies. Tasks without it are organizational siblings in the same folder
// and are never materialized in the CRM.
const Marker = "AdminCard"

// markerPrefixes are the textual variants seen in the wild, checked in order.
var markerPrefixes = []string{
	Marker + "_",
	Marker + " ",
	Marker + "-",
}

// HasMarker reports whether a tracker task title carries the company marker.
func HasMarker(title string) bool {
	return strings.Contains(title, Marker)
}

// CleanCompanyName strips the marker prefix from a tracker task title to
// derive the display name. The marker must never reach the CRM, whichever
// variant the source used.
func CleanCompanyName(name string) string {
	if name == "" {
		return ""
	}
	for _, prefix := range markerPrefixes {
		if strings.HasPrefix(name, prefix) {
			name = name[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(name)
}

// TierTable translates between the tracker's account-tier vocabulary and the
// CRM's account-priority vocabulary. Values absent from the table pass
// through unchanged; that is graceful degradation for unconfigured values,
// not an error.
type TierTable struct {
	TierToPriority map[string]string
	PriorityToTier map[string]string
}

// Priority maps a tracker tier to the CRM priority, passing unmapped values
// through.
func (t TierTable) Priority(tier string) string {
	if v, ok := t.TierToPriority[tier]; ok {
		return v
	}
	return tier
}

// Tier maps a CRM priority back to the tracker tier, passing unmapped values
// through.
func (t TierTable) Tier(priority string) string {
	if v, ok := t.PriorityToTier[priority]; ok {
		return v
	}
	return priority
}
