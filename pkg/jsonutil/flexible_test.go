package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlexibleString(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string", `"Customer"`, "Customer"},
		{"integer", `85`, "85"},
		{"float", `8.5`, "8.5"},
		{"boolean", `true`, "true"},
		{"null", `null`, ""},
		{"empty", ``, ""},
		{"negative", `-7`, "-7"},
		{"zero", `0`, "0"},
		{"array falls back to raw text", `[1,2]`, `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlexibleString(json.RawMessage(tt.raw)))
		})
	}
}

func TestFlexibleStringMap(t *testing.T) {
	raw := map[string]json.RawMessage{
		"name":           json.RawMessage(`"Acme"`),
		"affinity_score": json.RawMessage(`85`),
		"archived":       json.RawMessage(`false`),
		"notes":          json.RawMessage(`null`),
	}

	got := FlexibleStringMap(raw)
	assert.Equal(t, map[string]string{
		"name":           "Acme",
		"affinity_score": "85",
		"archived":       "false",
		"notes":          "",
	}, got)
}
