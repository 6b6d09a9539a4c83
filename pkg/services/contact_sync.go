package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/gateway"
	"github.com/relayforge/bridge-engine/pkg/models"
	"github.com/relayforge/bridge-engine/pkg/store"
)

// SyncContactsOutbound pushes tracker contact tasks updated since the last
// run into the CRM. Email is the join key: a task without one is skipped
// outright, since there is no reliable way to match or deduplicate it.
func (e *Engine) SyncContactsOutbound(ctx context.Context, diag *Diagnostics, activityID int64) (*PassResult, error) {
	start, end, err := e.syncWindow(ctx, store.StateContactsOutbound, outboundFirstRunLookback)
	if err != nil {
		return nil, err
	}

	tasks, err := e.tracker.TasksUpdatedBetween(ctx, e.cfg.Tracker.ContactsFolderID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list updated contact tasks: %w", err)
	}
	e.logger.Info("Contacts outbound pass",
		zap.Time("since", start),
		zap.Int("candidates", len(tasks)))

	propNames := e.crmContactPropertyNames()

	result := &PassResult{}
	for _, task := range tasks {
		contact := e.contactFromTask(task)
		if contact.Email == "" {
			result.Skipped++
			diag.RecordSkip(task.ID, task.Title, "no email address; contacts cannot sync without one")
			continue
		}
		result.Processed++
		diag.AddProcessed(1)

		props := e.crmContactProperties(contact)

		existing, err := e.crm.FindContactByEmail(ctx, contact.Email, propNames)
		switch {
		case err == nil:
			if diff := diffProperties(existing.Properties, props); len(diff) > 0 {
				if err := e.crm.Update(ctx, gateway.ObjectContact, existing.ID, diff); err != nil {
					result.Failed++
					diag.AddFailed(1)
					diag.RecordIssue(Categorize(err), task.ID, contact.FullName(), "", err.Error())
					e.addIssue(ctx, models.SourceTracker, models.EntityContact, task.ID, Categorize(err), err.Error())
					continue
				}
				result.Updated++
			}

		case gateway.IsNotFound(err):
			created, err := e.crm.Create(ctx, gateway.ObjectContact, props)
			if err != nil {
				result.Failed++
				diag.AddFailed(1)
				diag.RecordIssue(Categorize(err), task.ID, contact.FullName(), "", err.Error())
				e.addIssue(ctx, models.SourceTracker, models.EntityContact, task.ID, Categorize(err), err.Error())
				continue
			}
			result.Created++
			e.associateNewContact(ctx, diag, task, created.ID)

		default:
			result.Failed++
			diag.AddFailed(1)
			diag.RecordIssue(Categorize(err), task.ID, contact.FullName(), "", err.Error())
			e.addIssue(ctx, models.SourceTracker, models.EntityContact, task.ID, Categorize(err), err.Error())
			continue
		}

		diag.AddSucceeded(1)
	}

	if err := e.repos.State.SetTime(ctx, store.StateContactsOutbound, end); err != nil {
		return result, err
	}
	return result, nil
}

// associateNewContact links a freshly created CRM contact to its company
// when the contact task carries the company cross-reference field. Custom
// fields are account-wide in the tracker, so contact tasks can carry it.
// Association failures are logged, never fatal: the contact itself synced.
func (e *Engine) associateNewContact(ctx context.Context, diag *Diagnostics, task *gateway.TrackerTask, contactID string) {
	companyCRMID := task.Field(e.cfg.Tracker.CompanyFields["crm_account_id"])
	if companyCRMID == "" {
		return
	}
	if err := e.crm.AssociateContactWithCompany(ctx, contactID, companyCRMID); err != nil {
		diag.RecordIssue(Categorize(err), task.ID, task.Title, "", "failed to associate contact with company: "+err.Error())
		e.logger.Warn("Failed to associate contact with company",
			zap.String("contact_id", contactID),
			zap.String("company_id", companyCRMID),
			zap.Error(err))
	}
}

// SyncContactsInbound pulls CRM contact edits back onto tracker contact
// tasks matched by email. This is the one direction that rewrites a task
// title, keeping it in step with the contact's name. Unmatched CRM contacts
// are never created in the tracker.
func (e *Engine) SyncContactsInbound(ctx context.Context, diag *Diagnostics, activityID int64) (*PassResult, error) {
	start, end, err := e.syncWindow(ctx, store.StateContactsInbound, inboundFirstRunLookback)
	if err != nil {
		return nil, err
	}

	objects, err := e.crm.UpdatedSince(ctx, gateway.ObjectContact, start, e.crmContactPropertyNames())
	if err != nil {
		return nil, fmt.Errorf("failed to list updated crm contacts: %w", err)
	}
	e.logger.Info("Contacts inbound pass",
		zap.Time("since", start),
		zap.Int("candidates", len(objects)))

	props := e.cfg.CRM.ContactProperties
	fields := e.cfg.Tracker.ContactFields

	result := &PassResult{}
	for _, obj := range objects {
		contact := models.Contact{
			FirstName: obj.Property(props["firstname"]),
			LastName:  obj.Property(props["lastname"]),
			Email:     obj.Property(props["email"]),
		}
		if contact.Email == "" {
			result.Skipped++
			diag.RecordSkip(obj.ID, contact.FullName(), "no email address; cannot match a tracker task")
			continue
		}

		tasks, err := e.tracker.TasksByField(ctx, e.cfg.Tracker.ContactsFolderID, fields["email"], contact.Email)
		if err != nil {
			result.Failed++
			diag.AddFailed(1)
			diag.RecordIssue(Categorize(err), obj.ID, contact.FullName(), "", err.Error())
			e.addIssue(ctx, models.SourceCRM, models.EntityContact, obj.ID, Categorize(err), err.Error())
			continue
		}
		if len(tasks) == 0 {
			result.Skipped++
			diag.RecordSkip(obj.ID, contact.FullName(), "no tracker task with this email; inbound sync never creates tasks")
			continue
		}
		result.Processed++
		diag.AddProcessed(1)

		task := tasks[0]
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

		if changed {
			if _, err := e.tracker.UpdateTask(ctx, task.ID, input); err != nil {
				result.Failed++
				diag.AddFailed(1)
				diag.RecordIssue(Categorize(err), obj.ID, contact.FullName(), "", err.Error())
				e.addIssue(ctx, models.SourceCRM, models.EntityContact, obj.ID, Categorize(err), err.Error())
				continue
			}
			result.Updated++
		}
		diag.AddSucceeded(1)
	}

	if err := e.repos.State.SetTime(ctx, store.StateContactsInbound, end); err != nil {
		return result, err
	}
	return result, nil
}
