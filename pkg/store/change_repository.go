package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relayforge/bridge-engine/pkg/models"
)

// ChangeRepository is the queue between the change detector and the
// event-driven sync path.
type ChangeRepository interface {
	Track(ctx context.Context, change *models.TrackedChange) error
	Pending(ctx context.Context, limit int) ([]*models.TrackedChange, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	Stats(ctx context.Context) (*models.ChangeStats, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

type changeRepository struct {
	db *DB
}

// NewChangeRepository creates a new ChangeRepository.
func NewChangeRepository(db *DB) ChangeRepository {
	return &changeRepository{db: db}
}

var _ ChangeRepository = (*changeRepository)(nil)

// Track enqueues a detected change. Re-detecting the same (source, record,
// instant) is a silent no-op via the unique constraint, which makes detector
// lookback overlap safe.
func (r *changeRepository) Track(ctx context.Context, change *models.TrackedChange) error {
	query := r.db.Rebind(`
		INSERT INTO change_tracking (
			source, record_id, record_name, change_type, detected_at, status
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, record_id, detected_at) DO NOTHING`)

	_, err := r.db.ExecContext(ctx, query,
		change.Source, change.RecordID, change.RecordName, change.ChangeType,
		change.DetectedAt.UTC(), models.ChangePending,
	)
	if err != nil {
		return fmt.Errorf("failed to track change: %w", err)
	}
	return nil
}

func (r *changeRepository) Pending(ctx context.Context, limit int) ([]*models.TrackedChange, error) {
	query := r.db.Rebind(`
		SELECT id, source, record_id, record_name, change_type, detected_at,
		       synced_at, status, error_message
		FROM change_tracking
		WHERE status = ?
		ORDER BY detected_at
		LIMIT ?`)

	rows, err := r.db.QueryContext(ctx, query, models.ChangePending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending changes: %w", err)
	}
	defer rows.Close()

	changes := make([]*models.TrackedChange, 0)
	for rows.Next() {
		var (
			c            models.TrackedChange
			name, errMsg sql.NullString
		)
		if err := rows.Scan(
			&c.ID, &c.Source, &c.RecordID, &name, &c.ChangeType, &c.DetectedAt,
			&c.SyncedAt, &c.Status, &errMsg,
		); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.RecordName = name.String
		c.ErrorMessage = errMsg.String
		changes = append(changes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}
	return changes, nil
}

func (r *changeRepository) MarkSynced(ctx context.Context, id int64) error {
	query := r.db.Rebind(`
		UPDATE change_tracking
		SET status = ?, synced_at = ?, error_message = NULL
		WHERE id = ?`)

	if _, err := r.db.ExecContext(ctx, query, models.ChangeSynced, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to mark change synced: %w", err)
	}
	return nil
}

func (r *changeRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	query := r.db.Rebind(`
		UPDATE change_tracking
		SET status = ?, error_message = ?
		WHERE id = ?`)

	if _, err := r.db.ExecContext(ctx, query, models.ChangeFailed, errMsg, id); err != nil {
		return fmt.Errorf("failed to mark change failed: %w", err)
	}
	return nil
}

func (r *changeRepository) Stats(ctx context.Context) (*models.ChangeStats, error) {
	query := r.db.Rebind(`
		SELECT
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN detected_at >= ? THEN 1 ELSE 0 END)
		FROM change_tracking`)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	var pending, synced, failed, last24 sql.NullInt64
	err := r.db.QueryRowContext(ctx, query,
		models.ChangePending, models.ChangeSynced, models.ChangeFailed, cutoff,
	).Scan(&pending, &synced, &failed, &last24)
	if err != nil {
		return nil, fmt.Errorf("failed to compute change stats: %w", err)
	}

	return &models.ChangeStats{
		Pending: int(pending.Int64),
		Synced:  int(synced.Int64),
		Failed:  int(failed.Int64),
		Last24h: int(last24.Int64),
	}, nil
}

// Cleanup deletes settled rows (synced or failed) older than the retention
// window and reports how many went away. Pending rows are never touched.
func (r *changeRepository) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := r.db.Rebind(`
		DELETE FROM change_tracking
		WHERE status IN (?, ?) AND detected_at < ?`)

	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := r.db.ExecContext(ctx, query, models.ChangeSynced, models.ChangeFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up changes: %w", err)
	}
	return res.RowsAffected()
}
