package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/fieldmap"
	"github.com/relayforge/bridge-engine/pkg/gateway"
	"github.com/relayforge/bridge-engine/pkg/models"
)

// findCRMCounterpart resolves the CRM company for a tracker card without
// creating anything. Resolution order: the card's stored CRM id, the local
// mapping (a 404 there deactivates the stale row), then a search by the
// cross-reference property, which re-links the mapping on a hit. Returns
// ErrNoMapping when no link exists on either side.
func (e *Engine) findCRMCounterpart(ctx context.Context, diag *Diagnostics, task *gateway.TrackerTask) (*gateway.CRMObject, error) {
	propNames := e.crmCompanyPropertyNames()
	name := fieldmap.CleanCompanyName(task.Title)

	deadID := ""
	if storedID := task.Field(e.cfg.Tracker.CompanyFields["crm_account_id"]); storedID != "" {
		obj, err := e.crm.Get(ctx, gateway.ObjectCompany, storedID, propNames)
		if err == nil {
			return obj, nil
		}
		if !gateway.IsNotFound(err) {
			return nil, err
		}
		deadID = storedID
	}

	if crmID, err := e.repos.Mappings.CRMIDByTracker(ctx, task.ID); err == nil {
		if crmID != deadID {
			obj, getErr := e.crm.Get(ctx, gateway.ObjectCompany, crmID, propNames)
			if getErr == nil {
				return obj, nil
			}
			if !gateway.IsNotFound(getErr) {
				return nil, getErr
			}
		}

		diag.RecordIssue(CategoryStaleMapping, task.ID, name, "",
			fmt.Sprintf("mapped crm company %s no longer exists", crmID))
		e.logger.Warn("Deactivating stale mapping",
			zap.String("tracker_id", task.ID),
			zap.String("crm_id", crmID))
		if derr := e.repos.Mappings.Deactivate(ctx, task.ID, "crm record deleted"); derr != nil {
			return nil, derr
		}
	} else if !errors.Is(err, apperrors.ErrNoMapping) {
		return nil, err
	}

	results, err := e.crm.Search(ctx, gateway.ObjectCompany, []gateway.Filter{{
		PropertyName: e.cfg.CRM.CompanyProperties["tracker_task_id"],
		Operator:     gateway.OpEqual,
		Value:        task.ID,
	}}, propNames)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, apperrors.ErrNoMapping
	}
	if err := e.upsertMapping(ctx, task.ID, results[0].ID, name); err != nil {
		return nil, err
	}
	return results[0], nil
}

// SyncCompanyNames copies each linked CRM company's name onto its tracker
// card's display-name custom field, so the CRM spelling is visible next to
// the card title without ever rewriting the title itself.
func (e *Engine) SyncCompanyNames(ctx context.Context, diag *Diagnostics, activityID int64) (*PassResult, error) {
	end := time.Now().UTC()
	tasks, err := e.tracker.TasksUpdatedBetween(ctx, e.cfg.Tracker.CompaniesFolderID, end.Add(-crossSyncLookback), end)
	if err != nil {
		return nil, fmt.Errorf("failed to list company cards: %w", err)
	}

	nameField := e.cfg.Tracker.CompanyFields["crm_account_name"]
	nameProp := e.cfg.CRM.CompanyProperties["name"]

	result := &PassResult{}
	for _, task := range tasks {
		if !fieldmap.HasMarker(task.Title) {
			continue
		}
		result.Processed++

		obj, err := e.findCRMCounterpart(ctx, diag, task)
		if errors.Is(err, apperrors.ErrNoMapping) {
			result.Skipped++
			diag.RecordIssue(CategoryNoCrossReference, task.ID, fieldmap.CleanCompanyName(task.Title), nameField,
				"no crm counterpart; name cannot be cross-synced")
			continue
		}
		if err != nil {
			result.Failed++
			diag.RecordIssue(Categorize(err), task.ID, fieldmap.CleanCompanyName(task.Title), nameField, err.Error())
			continue
		}

		crmName := strings.TrimSpace(obj.Property(nameProp))
		current := strings.TrimSpace(task.Field(nameField))

		if activityID != 0 {
			if err := e.repos.Activities.RecordFieldChange(ctx, &models.FieldChange{
				ActivityID:       activityID,
				CompanyName:      fieldmap.CleanCompanyName(task.Title),
				TrackerCompanyID: task.ID,
				CRMCompanyID:     obj.ID,
				EntityType:       models.EntityCompany,
				FieldName:        "CRM Account Name",
				SystemChanged:    "tracker",
				OldValue:         current,
				NewValue:         crmName,
				Changed:          current != crmName,
			}); err != nil {
				e.logger.Warn("Failed to record field change", zap.Error(err))
			}
		}

		if crmName == "" || current == crmName {
			result.Matched++
			continue
		}

		input := &gateway.TaskInput{}
		input.SetField(nameField, crmName)
		if _, err := e.tracker.UpdateTask(ctx, task.ID, input); err != nil {
			result.Failed++
			diag.RecordIssue(Categorize(err), task.ID, fieldmap.CleanCompanyName(task.Title), nameField, err.Error())
			continue
		}
		result.Updated++
	}

	return result, nil
}

// SyncCompanyIDs stamps the cross-reference ids on both sides of every
// linked pair: the CRM id onto the tracker card and the tracker id onto the
// CRM record. Pairs already stamped on both sides count as matched.
func (e *Engine) SyncCompanyIDs(ctx context.Context, diag *Diagnostics) (*PassResult, error) {
	end := time.Now().UTC()
	tasks, err := e.tracker.TasksUpdatedBetween(ctx, e.cfg.Tracker.CompaniesFolderID, end.Add(-crossSyncLookback), end)
	if err != nil {
		return nil, fmt.Errorf("failed to list company cards: %w", err)
	}

	idField := e.cfg.Tracker.CompanyFields["crm_account_id"]
	refProp := e.cfg.CRM.CompanyProperties["tracker_task_id"]

	result := &PassResult{}
	for _, task := range tasks {
		if !fieldmap.HasMarker(task.Title) {
			continue
		}
		result.Processed++
		name := fieldmap.CleanCompanyName(task.Title)

		obj, err := e.findCRMCounterpart(ctx, diag, task)
		if errors.Is(err, apperrors.ErrNoMapping) {
			result.Skipped++
			diag.RecordIssue(CategoryNoCrossReference, task.ID, name, idField,
				"no crm counterpart; ids cannot be cross-stamped")
			continue
		}
		if err != nil {
			result.Failed++
			diag.RecordIssue(Categorize(err), task.ID, name, idField, err.Error())
			continue
		}

		stamped := false
		if task.Field(idField) != obj.ID {
			input := &gateway.TaskInput{}
			input.SetField(idField, obj.ID)
			if _, err := e.tracker.UpdateTask(ctx, task.ID, input); err != nil {
				result.Failed++
				diag.RecordIssue(Categorize(err), task.ID, name, idField, err.Error())
				continue
			}
			stamped = true
		}
		if obj.Property(refProp) != task.ID {
			if err := e.crm.Update(ctx, gateway.ObjectCompany, obj.ID, map[string]string{refProp: task.ID}); err != nil {
				result.Failed++
				diag.RecordIssue(Categorize(err), task.ID, name, refProp, err.Error())
				continue
			}
			stamped = true
		}

		if stamped {
			result.Updated++
			if err := e.upsertMapping(ctx, task.ID, obj.ID, name); err != nil {
				return result, err
			}
		} else {
			result.Matched++
		}
	}

	return result, nil
}
