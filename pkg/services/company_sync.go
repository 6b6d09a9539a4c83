package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/fieldmap"
	"github.com/relayforge/bridge-engine/pkg/gateway"
	"github.com/relayforge/bridge-engine/pkg/models"
	"github.com/relayforge/bridge-engine/pkg/store"
)

// SyncCompaniesOutbound pushes tracker company cards updated since the last
// run into the CRM. Tasks without the card marker in their title are not
// company cards and are passed over without counting.
func (e *Engine) SyncCompaniesOutbound(ctx context.Context, diag *Diagnostics, activityID int64) (*PassResult, error) {
	start, end, err := e.syncWindow(ctx, store.StateCompaniesOutbound, outboundFirstRunLookback)
	if err != nil {
		return nil, err
	}

	tasks, err := e.tracker.TasksUpdatedBetween(ctx, e.cfg.Tracker.CompaniesFolderID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list updated company cards: %w", err)
	}
	e.logger.Info("Companies outbound pass",
		zap.Time("since", start),
		zap.Int("candidates", len(tasks)))

	result := &PassResult{}
	for _, task := range tasks {
		if !fieldmap.HasMarker(task.Title) {
			continue
		}
		result.Processed++
		diag.AddProcessed(1)

		company := e.companyFromTask(task)
		props := e.crmCompanyProperties(company)

		crmID, before, created, err := e.resolveCRMCompany(ctx, diag, task, company.Name, props)
		if err != nil {
			result.Failed++
			diag.AddFailed(1)
			diag.RecordIssue(Categorize(err), task.ID, company.Name, "", err.Error())
			e.addIssue(ctx, models.SourceTracker, models.EntityCompany, task.ID, Categorize(err), err.Error())
			e.logger.Error("Failed to sync company", zap.String("name", company.Name), zap.Error(err))
			continue
		}

		if created {
			result.Created++
		} else {
			// Always push the full property set; per-field diffing is the
			// audit trail's job, not the write path's.
			if err := e.crm.Update(ctx, gateway.ObjectCompany, crmID, props); err != nil {
				result.Failed++
				diag.AddFailed(1)
				diag.RecordIssue(Categorize(err), task.ID, company.Name, "", err.Error())
				e.addIssue(ctx, models.SourceTracker, models.EntityCompany, task.ID, Categorize(err), err.Error())
				continue
			}
			result.Updated++
		}

		if err := e.upsertMapping(ctx, task.ID, crmID, company.Name); err != nil {
			return result, err
		}

		e.recordCompanyFieldChanges(ctx, activityID, company, crmID, before)
		diag.AddSucceeded(1)
	}

	if err := e.repos.State.SetTime(ctx, store.StateCompaniesOutbound, end); err != nil {
		return result, err
	}
	return result, nil
}

// SyncCompaniesInbound pulls CRM company edits back onto the mapped tracker
// cards. Only the status, score and tier custom fields move in this
// direction; CRM edits never rename a card, and unmapped CRM companies are
// never created in the tracker.
func (e *Engine) SyncCompaniesInbound(ctx context.Context, diag *Diagnostics, activityID int64) (*PassResult, error) {
	start, end, err := e.syncWindow(ctx, store.StateCompaniesInbound, inboundFirstRunLookback)
	if err != nil {
		return nil, err
	}

	objects, err := e.crm.UpdatedSince(ctx, gateway.ObjectCompany, start, e.crmCompanyPropertyNames())
	if err != nil {
		return nil, fmt.Errorf("failed to list updated crm companies: %w", err)
	}
	e.logger.Info("Companies inbound pass",
		zap.Time("since", start),
		zap.Int("candidates", len(objects)))

	props := e.cfg.CRM.CompanyProperties
	fields := e.cfg.Tracker.CompanyFields

	result := &PassResult{}
	for _, obj := range objects {
		name := obj.Property(props["name"])

		trackerID, err := e.repos.Mappings.TrackerIDByCRM(ctx, obj.ID)
		if errors.Is(err, apperrors.ErrNoMapping) {
			result.Skipped++
			diag.RecordSkip(obj.ID, name, "no tracker mapping; inbound sync never creates cards")
			continue
		}
		if err != nil {
			return result, err
		}
		result.Processed++
		diag.AddProcessed(1)

		task, err := e.tracker.Task(ctx, trackerID)
		if err != nil {
			result.Failed++
			diag.AddFailed(1)
			diag.RecordIssue(Categorize(err), obj.ID, name, "", err.Error())
			e.addIssue(ctx, models.SourceCRM, models.EntityCompany, obj.ID, Categorize(err), err.Error())
			continue
		}

		input := &gateway.TaskInput{}
		updates := []struct {
			fieldID string
			label   string
			next    string
		}{
			{fields["account_status"], "Account Status", obj.Property(props["account_status"])},
			{fields["affinity_score"], "Affinity Score", obj.Property(props["affinity_score"])},
			{fields["account_tier"], "Tier", e.tiers.Tier(obj.Property(props["account_priority"]))},
		}
		changed := false
		for _, u := range updates {
			old := task.Field(u.fieldID)
			if old != u.next {
				input.SetField(u.fieldID, u.next)
				changed = true
			}
			e.recordInboundFieldChange(ctx, activityID, name, trackerID, obj.ID, u.label, old, u.next)
		}

		if changed {
			if _, err := e.tracker.UpdateTask(ctx, trackerID, input); err != nil {
				result.Failed++
				diag.AddFailed(1)
				diag.RecordIssue(Categorize(err), obj.ID, name, "", err.Error())
				e.addIssue(ctx, models.SourceCRM, models.EntityCompany, obj.ID, Categorize(err), err.Error())
				continue
			}
			result.Updated++
		}
		diag.AddSucceeded(1)
	}

	if err := e.repos.State.SetTime(ctx, store.StateCompaniesInbound, end); err != nil {
		return result, err
	}
	return result, nil
}

func (e *Engine) recordInboundFieldChange(ctx context.Context, activityID int64, name, trackerID, crmID, label, old, next string) {
	if activityID == 0 {
		return
	}
	if err := e.repos.Activities.RecordFieldChange(ctx, &models.FieldChange{
		ActivityID:       activityID,
		CompanyName:      name,
		TrackerCompanyID: trackerID,
		CRMCompanyID:     crmID,
		EntityType:       models.EntityCompany,
		FieldName:        label,
		SystemChanged:    "tracker",
		OldValue:         old,
		NewValue:         next,
		Changed:          old != next,
	}); err != nil {
		e.logger.Warn("Failed to record field change", zap.Error(err))
	}
}

// diffProperties returns the entries in next whose values differ from the
// current remote state.
func diffProperties(current, next map[string]string) map[string]string {
	diff := make(map[string]string)
	for name, value := range next {
		if current[name] != value {
			diff[name] = value
		}
	}
	return diff
}
