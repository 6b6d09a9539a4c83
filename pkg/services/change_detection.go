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
	"github.com/relayforge/bridge-engine/pkg/retry"
	"github.com/relayforge/bridge-engine/pkg/store"
)

// pendingBatchSize bounds how many queued changes one processing run drains.
const pendingBatchSize = 50

// DetectChanges polls both systems for records modified since the last
// detection run and queues them for the event-driven sync path. Re-detecting
// the same modification is a no-op, so overlapping windows are harmless.
func (e *Engine) DetectChanges(ctx context.Context) (int, error) {
	tracked := 0

	n, err := e.detectTrackerChanges(ctx)
	tracked += n
	if err != nil {
		return tracked, err
	}

	n, err = e.detectCRMChanges(ctx)
	tracked += n
	if err != nil {
		return tracked, err
	}

	e.logger.Info("Change detection complete", zap.Int("tracked", tracked))
	return tracked, nil
}

func (e *Engine) detectTrackerChanges(ctx context.Context) (int, error) {
	start, end, err := e.syncWindow(ctx, store.StateChangeDetectTracker, detectorFirstRunLookback)
	if err != nil {
		return 0, err
	}

	tracked := 0
	folders := []struct {
		folderID   string
		changeType string
	}{
		{e.cfg.Tracker.CompaniesFolderID, models.EntityCompany},
		{e.cfg.Tracker.ContactsFolderID, models.EntityContact},
	}
	for _, f := range folders {
		tasks, err := e.tracker.TasksUpdatedBetween(ctx, f.folderID, start, end)
		if err != nil {
			return tracked, fmt.Errorf("failed to detect tracker changes: %w", err)
		}
		for _, task := range tasks {
			if f.changeType == models.EntityCompany && !fieldmap.HasMarker(task.Title) {
				continue
			}
			if err := e.repos.Changes.Track(ctx, &models.TrackedChange{
				Source:     models.SourceTracker,
				RecordID:   task.ID,
				RecordName: fieldmap.CleanCompanyName(task.Title),
				ChangeType: f.changeType,
				DetectedAt: task.UpdatedDate,
			}); err != nil {
				return tracked, err
			}
			tracked++
		}
	}

	return tracked, e.repos.State.SetTime(ctx, store.StateChangeDetectTracker, end)
}

func (e *Engine) detectCRMChanges(ctx context.Context) (int, error) {
	start, end, err := e.syncWindow(ctx, store.StateChangeDetectCRM, detectorFirstRunLookback)
	if err != nil {
		return 0, err
	}

	tracked := 0
	kinds := []struct {
		objectType string
		changeType string
		props      []string
		nameOf     func(*gateway.CRMObject) string
	}{
		{gateway.ObjectCompany, models.EntityCompany, e.crmCompanyPropertyNames(), func(o *gateway.CRMObject) string {
			return o.Property(e.cfg.CRM.CompanyProperties["name"])
		}},
		{gateway.ObjectContact, models.EntityContact, e.crmContactPropertyNames(), func(o *gateway.CRMObject) string {
			return o.Property(e.cfg.CRM.ContactProperties["email"])
		}},
	}
	for _, k := range kinds {
		objects, err := e.crm.UpdatedSince(ctx, k.objectType, start, k.props)
		if err != nil {
			return tracked, fmt.Errorf("failed to detect crm changes: %w", err)
		}
		for _, obj := range objects {
			if err := e.repos.Changes.Track(ctx, &models.TrackedChange{
				Source:     models.SourceCRM,
				RecordID:   obj.ID,
				RecordName: k.nameOf(obj),
				ChangeType: k.changeType,
				DetectedAt: obj.UpdatedAt,
			}); err != nil {
				return tracked, err
			}
			tracked++
		}
	}

	return tracked, e.repos.State.SetTime(ctx, store.StateChangeDetectCRM, end)
}

// ProcessPendingChanges drains a batch of queued changes through the
// single-record path. Transient errors are retried in-process; whatever
// still fails is marked failed with its message, and a later detection of
// the same record queues it again.
func (e *Engine) ProcessPendingChanges(ctx context.Context) (synced, failed int, err error) {
	pending, err := e.repos.Changes.Pending(ctx, pendingBatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, change := range pending {
		syncErr := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
			return e.SyncSingleRecord(ctx, change)
		})
		if syncErr != nil {
			failed++
			if markErr := e.repos.Changes.MarkFailed(ctx, change.ID, syncErr.Error()); markErr != nil {
				return synced, failed, markErr
			}
			e.logger.Warn("Failed to sync queued change",
				zap.Int64("change_id", change.ID),
				zap.String("source", change.Source),
				zap.String("record_id", change.RecordID),
				zap.Error(syncErr))
			continue
		}
		synced++
		if err := e.repos.Changes.MarkSynced(ctx, change.ID); err != nil {
			return synced, failed, err
		}
	}

	return synced, failed, nil
}

// SyncSingleRecord pushes one detected change through the matching
// directional logic. Records that no longer qualify (deleted, unmarked,
// unmapped, direction disabled) resolve without error; the queue is not the
// place to report policy skips.
func (e *Engine) SyncSingleRecord(ctx context.Context, change *models.TrackedChange) error {
	diag := NewDiagnostics()

	switch {
	case change.Source == models.SourceTracker && change.ChangeType == models.EntityCompany:
		return e.syncOneTrackerCompany(ctx, diag, change.RecordID)
	case change.Source == models.SourceTracker && change.ChangeType == models.EntityContact:
		return e.syncOneTrackerContact(ctx, change.RecordID)
	case change.Source == models.SourceCRM && change.ChangeType == models.EntityCompany:
		return e.syncOneCRMCompany(ctx, change.RecordID)
	case change.Source == models.SourceCRM && change.ChangeType == models.EntityContact:
		if !e.cfg.Sync.ContactsCRMToTracker {
			return nil
		}
		return e.syncOneCRMContact(ctx, change.RecordID)
	default:
		return fmt.Errorf("unknown change %s/%s", change.Source, change.ChangeType)
	}
}

func (e *Engine) syncOneTrackerCompany(ctx context.Context, diag *Diagnostics, taskID string) error {
	task, err := e.tracker.Task(ctx, taskID)
	if gateway.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !fieldmap.HasMarker(task.Title) {
		return nil
	}

	company := e.companyFromTask(task)
	props := e.crmCompanyProperties(company)

	crmID, before, created, err := e.resolveCRMCompany(ctx, diag, task, company.Name, props)
	if err != nil {
		return err
	}
	if created {
		return nil
	}
	if diff := diffProperties(before, props); len(diff) > 0 {
		return e.crm.Update(ctx, gateway.ObjectCompany, crmID, diff)
	}
	return nil
}

func (e *Engine) syncOneTrackerContact(ctx context.Context, taskID string) error {
	task, err := e.tracker.Task(ctx, taskID)
	if gateway.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	contact := e.contactFromTask(task)
	if contact.Email == "" {
		return nil
	}
	props := e.crmContactProperties(contact)

	existing, err := e.crm.FindContactByEmail(ctx, contact.Email, e.crmContactPropertyNames())
	if gateway.IsNotFound(err) {
		created, err := e.crm.Create(ctx, gateway.ObjectContact, props)
		if err != nil {
			return err
		}
		e.associateNewContact(ctx, NewDiagnostics(), task, created.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if diff := diffProperties(existing.Properties, props); len(diff) > 0 {
		return e.crm.Update(ctx, gateway.ObjectContact, existing.ID, diff)
	}
	return nil
}

func (e *Engine) syncOneCRMCompany(ctx context.Context, crmID string) error {
	trackerID, err := e.repos.Mappings.TrackerIDByCRM(ctx, crmID)
	if errors.Is(err, apperrors.ErrNoMapping) {
		return nil
	}
	if err != nil {
		return err
	}

	obj, err := e.crm.Get(ctx, gateway.ObjectCompany, crmID, e.crmCompanyPropertyNames())
	if gateway.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	task, err := e.tracker.Task(ctx, trackerID)
	if err != nil {
		return err
	}

	props := e.cfg.CRM.CompanyProperties
	fields := e.cfg.Tracker.CompanyFields
	input := &gateway.TaskInput{}
	changed := false
	for _, u := range []struct {
		fieldID string
		next    string
	}{
		{fields["account_status"], obj.Property(props["account_status"])},
		{fields["affinity_score"], obj.Property(props["affinity_score"])},
		{fields["account_tier"], e.tiers.Tier(obj.Property(props["account_priority"]))},
	} {
		if task.Field(u.fieldID) != u.next {
			input.SetField(u.fieldID, u.next)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	_, err = e.tracker.UpdateTask(ctx, trackerID, input)
	return err
}

func (e *Engine) syncOneCRMContact(ctx context.Context, crmID string) error {
	obj, err := e.crm.Get(ctx, gateway.ObjectContact, crmID, e.crmContactPropertyNames())
	if gateway.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	props := e.cfg.CRM.ContactProperties
	fields := e.cfg.Tracker.ContactFields

	email := obj.Property(props["email"])
	if email == "" {
		return nil
	}
	tasks, err := e.tracker.TasksByField(ctx, e.cfg.Tracker.ContactsFolderID, fields["email"], email)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}
	task := tasks[0]

	contact := models.Contact{
		FirstName: obj.Property(props["firstname"]),
		LastName:  obj.Property(props["lastname"]),
	}
	input := &gateway.TaskInput{}
	changed := false
	for _, u := range []struct {
		fieldID string
		next    string
	}{
		{fields["first_name"], contact.FirstName},
		{fields["last_name"], contact.LastName},
		{fields["phone"], obj.Property(props["phone"])},
		{fields["mobile"], obj.Property(props["mobilephone"])},
		{fields["address1"], obj.Property(props["address"])},
		{fields["city"], obj.Property(props["city"])},
	} {
		if task.Field(u.fieldID) != u.next {
			input.SetField(u.fieldID, u.next)
			changed = true
		}
	}
	if name := contact.FullName(); name != "" && task.Title != name {
		input.Title = name
		changed = true
	}
	if !changed {
		return nil
	}
	_, err = e.tracker.UpdateTask(ctx, task.ID, input)
	return err
}
