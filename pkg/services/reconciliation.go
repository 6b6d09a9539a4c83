package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/fieldmap"
	"github.com/relayforge/bridge-engine/pkg/gateway"
	"github.com/relayforge/bridge-engine/pkg/models"
)

// reconcileIssueCap bounds how many issue rows one audit writes per
// category, so a systemic drift does not flood the issue log.
const reconcileIssueCap = 20

// Issue types written by the auditor.
const (
	IssueTrackerOnly   = "tracker_only"
	IssueCRMOnly       = "crm_only"
	IssueFieldMismatch = "field_mismatch"
)

// Reconcile audits the full company population on both sides: every marked
// tracker card against every CRM company. It observes and records, it never
// repairs; drift is fixed by the regular sync passes or by hand.
func (e *Engine) Reconcile(ctx context.Context) (*models.ReconciliationReport, error) {
	runAt := time.Now().UTC()
	e.logger.Info("Starting reconciliation audit")

	tasks, err := e.tracker.FolderTasks(ctx, e.cfg.Tracker.CompaniesFolderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracker companies: %w", err)
	}
	var cards []*gateway.TrackerTask
	for _, task := range tasks {
		if fieldmap.HasMarker(task.Title) {
			cards = append(cards, task)
		}
	}

	objects, err := e.crm.List(ctx, gateway.ObjectCompany, e.crmCompanyPropertyNames())
	if err != nil {
		return nil, fmt.Errorf("failed to list crm companies: %w", err)
	}

	props := e.cfg.CRM.CompanyProperties
	refProp := props["tracker_task_id"]

	byID := make(map[string]*gateway.CRMObject, len(objects))
	byTrackerRef := make(map[string]*gateway.CRMObject, len(objects))
	for _, obj := range objects {
		byID[obj.ID] = obj
		if ref := obj.Property(refProp); ref != "" {
			byTrackerRef[ref] = obj
		}
	}

	report := &models.ReconciliationReport{
		RunAt:        runAt,
		TrackerTotal: len(cards),
		CRMTotal:     len(objects),
		Status:       "completed",
	}
	issueCounts := make(map[string]int)
	claimed := make(map[string]bool, len(cards))

	for _, task := range cards {
		name := fieldmap.CleanCompanyName(task.Title)

		obj := byTrackerRef[task.ID]
		if obj == nil {
			// Fall back to the local mapping for pairs not yet stamped.
			crmID, err := e.repos.Mappings.CRMIDByTracker(ctx, task.ID)
			if err != nil && !errors.Is(err, apperrors.ErrNoMapping) {
				return nil, err
			}
			if err == nil {
				obj = byID[crmID]
			}
		}

		if obj == nil {
			report.TrackerOnly++
			e.reconcileIssue(ctx, issueCounts, models.SourceTracker, task.ID, IssueTrackerOnly,
				fmt.Sprintf("company %q exists in the tracker with no crm counterpart", name))
			continue
		}
		claimed[obj.ID] = true

		mismatches := e.compareCompany(task, obj)
		if len(mismatches) == 0 {
			report.Matched++
			continue
		}
		report.Mismatched++
		for _, m := range mismatches {
			e.reconcileIssue(ctx, issueCounts, models.SourceTracker, task.ID, IssueFieldMismatch,
				fmt.Sprintf("company %q: %s", name, m))
		}
	}

	for _, obj := range objects {
		if claimed[obj.ID] {
			continue
		}
		report.CRMOnly++
		e.reconcileIssue(ctx, issueCounts, models.SourceCRM, obj.ID, IssueCRMOnly,
			fmt.Sprintf("company %q exists in the crm with no tracker counterpart", obj.Property(props["name"])))
	}

	report.Details = fmt.Sprintf(
		"tracker=%d crm=%d matched=%d mismatched=%d tracker_only=%d crm_only=%d",
		report.TrackerTotal, report.CRMTotal, report.Matched,
		report.Mismatched, report.TrackerOnly, report.CRMOnly)

	if err := e.repos.Reports.Save(ctx, report); err != nil {
		return report, err
	}
	e.logger.Info("Reconciliation audit complete", zap.String("summary", report.Details))
	return report, nil
}

// compareCompany returns a human-readable line per field that disagrees
// between a tracker card and its CRM counterpart.
func (e *Engine) compareCompany(task *gateway.TrackerTask, obj *gateway.CRMObject) []string {
	fields := e.cfg.Tracker.CompanyFields
	props := e.cfg.CRM.CompanyProperties

	checks := []struct {
		label   string
		tracker string
		crm     string
	}{
		{"account status", task.Field(fields["account_status"]), obj.Property(props["account_status"])},
		{"affinity score", task.Field(fields["affinity_score"]), obj.Property(props["affinity_score"])},
		{"tier/priority", e.tiers.Priority(task.Field(fields["account_tier"])), obj.Property(props["account_priority"])},
	}

	var mismatches []string
	for _, c := range checks {
		if c.tracker != c.crm {
			mismatches = append(mismatches, fmt.Sprintf("%s differs (tracker=%q crm=%q)", c.label, c.tracker, c.crm))
		}
	}
	return mismatches
}

// reconcileIssue writes an audit issue unless its category already hit the
// per-run cap.
func (e *Engine) reconcileIssue(ctx context.Context, counts map[string]int, source, entityID, issueType, detail string) {
	if counts[issueType] >= reconcileIssueCap {
		counts[issueType]++
		return
	}
	counts[issueType]++
	e.addIssue(ctx, source, models.EntityCompany, entityID, issueType, detail)
}
