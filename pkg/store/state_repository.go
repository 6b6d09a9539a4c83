package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Watermark keys tracked in sync_state: one per directional pass plus one
// per change-detection source.
const (
	StateCompaniesOutbound = "last_sync_companies_tracker_to_crm"
	StateContactsOutbound  = "last_sync_contacts_tracker_to_crm"
	StateCompaniesInbound  = "last_sync_companies_crm_to_tracker"
	StateContactsInbound   = "last_sync_contacts_crm_to_tracker"

	StateChangeDetectTracker = "change_detection_tracker"
	StateChangeDetectCRM     = "change_detection_crm"
)

// StateRepository provides access to the sync_state key/value table, which
// carries the incremental-sync watermarks.
type StateRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetTime(ctx context.Context, key string) (*time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}

type stateRepository struct {
	db *DB
}

// NewStateRepository creates a new StateRepository.
func NewStateRepository(db *DB) StateRepository {
	return &stateRepository{db: db}
}

var _ StateRepository = (*stateRepository)(nil)

// Get returns the stored value, or "" when the key has never been set.
func (r *stateRepository) Get(ctx context.Context, key string) (string, error) {
	query := r.db.Rebind(`SELECT value FROM sync_state WHERE key = ?`)

	var value sql.NullString
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read sync state %q: %w", key, err)
	}
	return value.String, nil
}

func (r *stateRepository) Set(ctx context.Context, key, value string) error {
	query := r.db.Rebind(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`)

	if _, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write sync state %q: %w", key, err)
	}
	return nil
}

// GetTime reads a watermark. A nil result means the key was never set, which
// callers treat as "first run".
func (r *stateRepository) GetTime(ctx context.Context, key string) (*time.Time, error) {
	value, err := r.Get(ctx, key)
	if err != nil || value == "" {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("corrupt watermark %q: %w", key, err)
	}
	return &t, nil
}

func (r *stateRepository) SetTime(ctx context.Context, key string, t time.Time) error {
	return r.Set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}
