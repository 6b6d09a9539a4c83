package fieldmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanCompanyName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"underscore variant", "AdminCard_Acme", "Acme"},
		{"space variant", "AdminCard Acme", "Acme"},
		{"dash variant", "AdminCard-Acme", "Acme"},
		{"trailing whitespace", "AdminCard_Acme  ", "Acme"},
		{"no marker", "Acme", "Acme"},
		{"empty", "", ""},
		{"marker only", "AdminCard_", ""},
		{"name containing marker word later", "Acme AdminCard", "Acme AdminCard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanCompanyName(tt.input))
		})
	}
}

func TestCleanCompanyName_NeverLeaksMarkerPrefix(t *testing.T) {
	for _, input := range []string{"AdminCard_Globex", "AdminCard Globex", "AdminCard-Globex"} {
		got := CleanCompanyName(input)
		assert.Equal(t, "Globex", got)
	}
}

func TestHasMarker(t *testing.T) {
	assert.True(t, HasMarker("AdminCard_Acme"))
	assert.True(t, HasMarker("AdminCard Acme"))
	assert.False(t, HasMarker("Quarterly planning"))
	assert.False(t, HasMarker(""))
}

func TestTierTable_RoundTrip(t *testing.T) {
	table := TierTable{
		TierToPriority: map[string]string{
			"Tier 1": "High",
			"Tier 2": "Medium",
			"Tier 3": "Low",
		},
		PriorityToTier: map[string]string{
			"High":   "Tier 1",
			"Medium": "Tier 2",
			"Low":    "Tier 3",
		},
	}

	for tier := range table.TierToPriority {
		assert.Equal(t, tier, table.Tier(table.Priority(tier)))
	}
}

func TestTierTable_PassthroughForUnmappedValues(t *testing.T) {
	table := TierTable{
		TierToPriority: map[string]string{"Tier 1": "High"},
		PriorityToTier: map[string]string{"High": "Tier 1"},
	}

	assert.Equal(t, "Tier 9", table.Priority("Tier 9"))
	assert.Equal(t, "Unknown", table.Tier("Unknown"))
}

func TestTierTable_ZeroValuePassesThrough(t *testing.T) {
	var table TierTable
	assert.Equal(t, "Tier 1", table.Priority("Tier 1"))
	assert.Equal(t, "High", table.Tier("High"))
}
