// Package services implements the sync engine: directional passes,
// cross-reference maintenance, change detection, reconciliation and the
// orchestrator that sequences them.
package services

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/relayforge/bridge-engine/pkg/gateway"
)

// Diagnostic issue categories. Every per-record problem a pass hits is
// bucketed into exactly one of these.
const (
	CategoryRemotePropertyMissing = "remote_property_missing"
	CategoryRecordNotFound        = "record_not_found"
	CategorySearchRejected        = "search_query_rejected"
	CategoryRequiredFieldMissing  = "required_field_missing"
	CategoryNoCrossReference      = "no_cross_reference_link"
	CategoryStaleMapping          = "stale_local_mapping"
	CategoryRateLimited           = "rate_limit_exhausted"
	CategoryTypeMismatch          = "type_mismatch"
)

type diagCategory struct {
	description  string
	suggestedFix string
}

var diagCategories = map[string]diagCategory{
	CategoryRemotePropertyMissing: {
		description:  "a configured remote property does not exist",
		suggestedFix: "create the property in the CRM schema, or fix its internal name in config",
	},
	CategoryRecordNotFound: {
		description:  "remote record not found (404)",
		suggestedFix: "the record may have been deleted remotely; the stale mapping will be re-resolved next cycle",
	},
	CategorySearchRejected: {
		description:  "the CRM search API rejected the query (400)",
		suggestedFix: "verify the cross-reference property exists in the CRM with the configured internal name",
	},
	CategoryRequiredFieldMissing: {
		description:  "a required field is empty in the source record",
		suggestedFix: "populate the field in the source system; the record is skipped until then",
	},
	CategoryNoCrossReference: {
		description:  "no cross-reference link between the two systems",
		suggestedFix: "set the cross-reference id on either side to establish the link",
	},
	CategoryStaleMapping: {
		description:  "local mapping points to a deleted remote record",
		suggestedFix: "the mapping has been deactivated; the record will be re-linked or recreated",
	},
	CategoryRateLimited: {
		description:  "API rate limit exhausted after all retries",
		suggestedFix: "reduce the cycle frequency or stagger other API consumers",
	},
	CategoryTypeMismatch: {
		description:  "a field value does not match the destination field type",
		suggestedFix: "check the field type in both systems (e.g. dropdown vs free text)",
	},
}

// DiagnosticIssue is one recorded problem.
type DiagnosticIssue struct {
	Category   string `json:"category"`
	RecordID   string `json:"record_id"`
	RecordName string `json:"record_name"`
	FieldName  string `json:"field_name,omitempty"`
	Details    string `json:"details,omitempty"`
}

type skippedRecord struct {
	recordID   string
	recordName string
	reason     string
}

// Diagnostics aggregates per-record problems and skips across one sync
// cycle and turns them into a readable report with recommended actions.
// It is confined to the single goroutine running the cycle.
type Diagnostics struct {
	issues    []DiagnosticIssue
	skipped   []skippedRecord
	processed int
	succeeded int
	failed    int
}

// NewDiagnostics creates an empty aggregator for one cycle.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// RecordIssue buckets one problem.
func (d *Diagnostics) RecordIssue(category, recordID, recordName, fieldName, details string) {
	d.issues = append(d.issues, DiagnosticIssue{
		Category:   category,
		RecordID:   recordID,
		RecordName: recordName,
		FieldName:  fieldName,
		Details:    details,
	})
}

// RecordSkip notes a record the pass deliberately did not touch.
func (d *Diagnostics) RecordSkip(recordID, recordName, reason string) {
	d.skipped = append(d.skipped, skippedRecord{recordID: recordID, recordName: recordName, reason: reason})
}

// AddProcessed, AddSucceeded and AddFailed feed the summary counters.
func (d *Diagnostics) AddProcessed(n int) { d.processed += n }
func (d *Diagnostics) AddSucceeded(n int) { d.succeeded += n }
func (d *Diagnostics) AddFailed(n int)    { d.failed += n }

// Issues returns everything recorded so far.
func (d *Diagnostics) Issues() []DiagnosticIssue {
	return d.issues
}

// CategoryCounts returns how many issues landed in each category.
func (d *Diagnostics) CategoryCounts() map[string]int {
	counts := make(map[string]int)
	for _, issue := range d.issues {
		counts[issue.Category]++
	}
	return counts
}

// Categorize maps an error from a pass to a diagnostic category.
func Categorize(err error) string {
	switch {
	case gateway.IsRateLimited(err):
		return CategoryRateLimited
	case gateway.IsNotFound(err):
		return CategoryRecordNotFound
	}

	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		return CategorySearchRejected
	}
	return CategoryTypeMismatch
}

// Report renders the cycle report: summary, issues by category with fixes,
// a sample of skipped records, and recommended actions.
func (d *Diagnostics) Report() []string {
	var lines []string

	lines = append(lines,
		"sync diagnostic report",
		fmt.Sprintf("summary: processed=%d succeeded=%d failed=%d skipped=%d",
			d.processed, d.succeeded, d.failed, len(d.skipped)))

	counts := d.CategoryCounts()
	if len(counts) > 0 {
		categories := make([]string, 0, len(counts))
		for cat := range counts {
			categories = append(categories, cat)
		}
		sort.Slice(categories, func(i, j int) bool {
			if counts[categories[i]] != counts[categories[j]] {
				return counts[categories[i]] > counts[categories[j]]
			}
			return categories[i] < categories[j]
		})

		lines = append(lines, "issues by category:")
		for _, cat := range categories {
			info := diagCategories[cat]
			lines = append(lines,
				fmt.Sprintf("  %s (%d): %s", cat, counts[cat], info.description),
				fmt.Sprintf("    suggested fix: %s", info.suggestedFix))
		}
	}

	if len(d.skipped) > 0 {
		lines = append(lines, "skipped records (sample):")
		sample := d.skipped
		if len(sample) > 10 {
			sample = sample[:10]
		}
		for _, skip := range sample {
			lines = append(lines, fmt.Sprintf("  %s (%s): %s", skip.recordName, skip.recordID, skip.reason))
		}
		if len(d.skipped) > 10 {
			lines = append(lines, fmt.Sprintf("  ... and %d more", len(d.skipped)-10))
		}
	}

	recs := d.recommendations()
	if len(recs) > 0 {
		lines = append(lines, "recommended actions:")
		for i, rec := range recs {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, rec))
		}
	} else {
		lines = append(lines, "no critical issues detected")
	}

	return lines
}

// recommendations synthesizes priority-ordered actions from the issue
// counts.
func (d *Diagnostics) recommendations() []string {
	counts := d.CategoryCounts()
	var recs []string

	if counts[CategorySearchRejected] > 0 {
		recs = append(recs, "create the cross-reference property in the CRM company schema (text field) so searches can match records")
	}
	if counts[CategoryRecordNotFound] > 5 {
		recs = append(recs, fmt.Sprintf("%d mappings reference deleted remote records; they were deactivated and will re-resolve, but consider a mapping cleanup", counts[CategoryRecordNotFound]))
	}
	if counts[CategoryNoCrossReference] > 0 {
		recs = append(recs, "establish id links: set the cross-reference id on either side so unlinked records can sync")
	}
	if counts[CategoryRequiredFieldMissing] > 0 {
		recs = append(recs, "populate required fields (email, name) in the source system; affected records are skipped")
	}
	if counts[CategoryRateLimited] > 0 {
		recs = append(recs, "rate limits were exhausted despite throttling; reduce the cycle frequency")
	}
	if len(d.skipped) > d.succeeded {
		recs = append(recs, "more records were skipped than synced; review the skip reasons above")
	}

	return recs
}
