package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relayforge/bridge-engine/pkg/models"
)

// ActivityRepository records the per-cycle audit trail: one parent activity
// row per sync pass plus one row per field compared, changed or not.
type ActivityRepository interface {
	Start(ctx context.Context, activityType string) (int64, error)
	Complete(ctx context.Context, a *models.SyncActivity) error
	Fail(ctx context.Context, id int64, summary string) error
	RecordFieldChange(ctx context.Context, fc *models.FieldChange) error
	Recent(ctx context.Context, limit int) ([]*models.SyncActivity, error)
	Changes(ctx context.Context, activityID int64) ([]*models.FieldChange, error)
	ChangesSince(ctx context.Context, since time.Time) ([]*models.FieldChange, error)
}

type activityRepository struct {
	db *DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *DB) ActivityRepository {
	return &activityRepository{db: db}
}

var _ ActivityRepository = (*activityRepository)(nil)

func (r *activityRepository) Start(ctx context.Context, activityType string) (int64, error) {
	query := r.db.Rebind(`
		INSERT INTO sync_activities (activity_type, started_at, status)
		VALUES (?, ?, ?)`)

	id, err := r.db.InsertReturningID(ctx, query, activityType, time.Now().UTC(), models.ActivityRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to start activity: %w", err)
	}
	return id, nil
}

func (r *activityRepository) Complete(ctx context.Context, a *models.SyncActivity) error {
	query := r.db.Rebind(`
		UPDATE sync_activities
		SET completed_at = ?, status = ?, companies_processed = ?,
		    contacts_processed = ?, changes_made = ?, errors = ?, summary = ?
		WHERE id = ?`)

	_, err := r.db.ExecContext(ctx, query,
		time.Now().UTC(), models.ActivityCompleted,
		a.CompaniesProcessed, a.ContactsProcessed, a.ChangesMade, a.Errors, a.Summary,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete activity: %w", err)
	}
	return nil
}

func (r *activityRepository) Fail(ctx context.Context, id int64, summary string) error {
	query := r.db.Rebind(`
		UPDATE sync_activities
		SET completed_at = ?, status = ?, summary = ?
		WHERE id = ?`)

	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), models.ActivityFailed, summary, id)
	if err != nil {
		return fmt.Errorf("failed to mark activity failed: %w", err)
	}
	return nil
}

// RecordFieldChange writes one comparison row. Rows with Changed=false are
// written too; the trail proves a field was checked rather than skipped.
func (r *activityRepository) RecordFieldChange(ctx context.Context, fc *models.FieldChange) error {
	query := r.db.Rebind(`
		INSERT INTO sync_activity_changes (
			activity_id, company_name, tracker_company_id, crm_company_id,
			entity_type, field_name, system_changed, old_value, new_value,
			changed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		fc.ActivityID, fc.CompanyName, fc.TrackerCompanyID, fc.CRMCompanyID,
		fc.EntityType, fc.FieldName, fc.SystemChanged, fc.OldValue, fc.NewValue,
		fc.Changed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record field change: %w", err)
	}
	return nil
}

func (r *activityRepository) Recent(ctx context.Context, limit int) ([]*models.SyncActivity, error) {
	query := r.db.Rebind(`
		SELECT id, activity_type, started_at, completed_at, status,
		       companies_processed, contacts_processed, changes_made, errors, summary
		FROM sync_activities
		ORDER BY started_at DESC
		LIMIT ?`)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*models.SyncActivity, 0)
	for rows.Next() {
		var (
			a       models.SyncActivity
			summary sql.NullString
		)
		if err := rows.Scan(
			&a.ID, &a.ActivityType, &a.StartedAt, &a.CompletedAt, &a.Status,
			&a.CompaniesProcessed, &a.ContactsProcessed, &a.ChangesMade, &a.Errors, &summary,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Summary = summary.String
		activities = append(activities, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}
	return activities, nil
}

func (r *activityRepository) Changes(ctx context.Context, activityID int64) ([]*models.FieldChange, error) {
	query := r.db.Rebind(selectFieldChanges + ` WHERE activity_id = ? ORDER BY id`)
	return r.queryFieldChanges(ctx, query, activityID)
}

// ChangesSince returns comparison rows newer than the cutoff, oldest first,
// which is the shape the CSV export wants.
func (r *activityRepository) ChangesSince(ctx context.Context, since time.Time) ([]*models.FieldChange, error) {
	query := r.db.Rebind(selectFieldChanges + ` WHERE created_at >= ? ORDER BY created_at`)
	return r.queryFieldChanges(ctx, query, since)
}

const selectFieldChanges = `
	SELECT id, activity_id, company_name, tracker_company_id, crm_company_id,
	       entity_type, field_name, system_changed, old_value, new_value,
	       changed, created_at
	FROM sync_activity_changes`

func (r *activityRepository) queryFieldChanges(ctx context.Context, query string, args ...any) ([]*models.FieldChange, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list field changes: %w", err)
	}
	defer rows.Close()

	changes := make([]*models.FieldChange, 0)
	for rows.Next() {
		var (
			fc                            models.FieldChange
			companyName, trackerID, crmID sql.NullString
			systemChanged, oldVal, newVal sql.NullString
		)
		if err := rows.Scan(
			&fc.ID, &fc.ActivityID, &companyName, &trackerID, &crmID,
			&fc.EntityType, &fc.FieldName, &systemChanged, &oldVal, &newVal,
			&fc.Changed, &fc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan field change: %w", err)
		}
		fc.CompanyName = companyName.String
		fc.TrackerCompanyID = trackerID.String
		fc.CRMCompanyID = crmID.String
		fc.SystemChanged = systemChanged.String
		fc.OldValue = oldVal.String
		fc.NewValue = newVal.String
		changes = append(changes, &fc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field changes: %w", err)
	}
	return changes, nil
}
