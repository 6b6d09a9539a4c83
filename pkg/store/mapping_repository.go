package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/models"
)

// MappingRepository provides data access for the tracker↔CRM identity map.
// Lookups only ever return active mappings; a deactivated row is invisible to
// the sync flow until re-linked.
type MappingRepository interface {
	CRMIDByTracker(ctx context.Context, trackerCompanyID string) (string, error)
	TrackerIDByCRM(ctx context.Context, crmCompanyID string) (string, error)
	Upsert(ctx context.Context, m *models.CompanyMapping) error
	Deactivate(ctx context.Context, trackerCompanyID, note string) error
	List(ctx context.Context) ([]*models.CompanyMapping, error)
	CountActive(ctx context.Context) (int, error)
}

type mappingRepository struct {
	db *DB
}

// NewMappingRepository creates a new MappingRepository.
func NewMappingRepository(db *DB) MappingRepository {
	return &mappingRepository{db: db}
}

var _ MappingRepository = (*mappingRepository)(nil)

func (r *mappingRepository) CRMIDByTracker(ctx context.Context, trackerCompanyID string) (string, error) {
	query := r.db.Rebind(`
		SELECT crm_company_id FROM company_id_map
		WHERE tracker_company_id = ? AND sync_status = ?`)

	var crmID string
	err := r.db.QueryRowContext(ctx, query, trackerCompanyID, models.SyncStatusActive).Scan(&crmID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.ErrNoMapping
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up mapping by tracker id: %w", err)
	}
	return crmID, nil
}

func (r *mappingRepository) TrackerIDByCRM(ctx context.Context, crmCompanyID string) (string, error) {
	query := r.db.Rebind(`
		SELECT tracker_company_id FROM company_id_map
		WHERE crm_company_id = ? AND sync_status = ?`)

	var trackerID string
	err := r.db.QueryRowContext(ctx, query, crmCompanyID, models.SyncStatusActive).Scan(&trackerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.ErrNoMapping
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up mapping by crm id: %w", err)
	}
	return trackerID, nil
}

// Upsert links a tracker company to a CRM company, reactivating and
// re-pointing a previously deactivated row for the same tracker id.
func (r *mappingRepository) Upsert(ctx context.Context, m *models.CompanyMapping) error {
	now := time.Now().UTC()
	query := r.db.Rebind(`
		INSERT INTO company_id_map (
			tracker_company_id, crm_company_id, company_name, sync_status,
			last_synced, created_at, updated_at, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tracker_company_id) DO UPDATE SET
			crm_company_id = EXCLUDED.crm_company_id,
			company_name = EXCLUDED.company_name,
			sync_status = EXCLUDED.sync_status,
			last_synced = EXCLUDED.last_synced,
			updated_at = EXCLUDED.updated_at,
			notes = EXCLUDED.notes`)

	_, err := r.db.ExecContext(ctx, query,
		m.TrackerCompanyID, m.CRMCompanyID, m.CompanyName, models.SyncStatusActive,
		now, now, now, m.Notes,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("crm company %s is already linked to another tracker company: %w",
				m.CRMCompanyID, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}
	return nil
}

// Deactivate soft-disables a mapping, typically after the CRM side turned out
// to be deleted. The row is kept for the audit trail.
func (r *mappingRepository) Deactivate(ctx context.Context, trackerCompanyID, note string) error {
	query := r.db.Rebind(`
		UPDATE company_id_map
		SET sync_status = ?, notes = ?, updated_at = ?
		WHERE tracker_company_id = ?`)

	_, err := r.db.ExecContext(ctx, query,
		models.SyncStatusInactive, note, time.Now().UTC(), trackerCompanyID)
	if err != nil {
		return fmt.Errorf("failed to deactivate mapping: %w", err)
	}
	return nil
}

func (r *mappingRepository) List(ctx context.Context) ([]*models.CompanyMapping, error) {
	query := `
		SELECT tracker_company_id, crm_company_id, company_name, sync_status,
		       last_synced, created_at, updated_at, notes
		FROM company_id_map
		ORDER BY company_name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]*models.CompanyMapping, 0)
	for rows.Next() {
		var (
			m     models.CompanyMapping
			notes sql.NullString
		)
		if err := rows.Scan(
			&m.TrackerCompanyID, &m.CRMCompanyID, &m.CompanyName, &m.SyncStatus,
			&m.LastSynced, &m.CreatedAt, &m.UpdatedAt, &notes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		m.Notes = notes.String
		mappings = append(mappings, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}
	return mappings, nil
}

func (r *mappingRepository) CountActive(ctx context.Context) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM company_id_map WHERE sync_status = ?`)

	var count int
	if err := r.db.QueryRowContext(ctx, query, models.SyncStatusActive).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active mappings: %w", err)
	}
	return count, nil
}
