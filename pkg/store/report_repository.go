package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/models"
)

// ReportRepository stores the aggregate result of each reconciliation audit.
type ReportRepository interface {
	Save(ctx context.Context, report *models.ReconciliationReport) error
	Latest(ctx context.Context) (*models.ReconciliationReport, error)
	List(ctx context.Context, limit int) ([]*models.ReconciliationReport, error)
}

type reportRepository struct {
	db *DB
}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository(db *DB) ReportRepository {
	return &reportRepository{db: db}
}

var _ ReportRepository = (*reportRepository)(nil)

func (r *reportRepository) Save(ctx context.Context, report *models.ReconciliationReport) error {
	query := r.db.Rebind(`
		INSERT INTO reconciliation_reports (
			run_at, tracker_total, crm_total, matched, tracker_only, crm_only,
			mismatched, auto_fixed, status, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	id, err := r.db.InsertReturningID(ctx, query,
		report.RunAt.UTC(), report.TrackerTotal, report.CRMTotal, report.Matched,
		report.TrackerOnly, report.CRMOnly, report.Mismatched, report.AutoFixed,
		report.Status, report.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation report: %w", err)
	}
	report.ID = id
	return nil
}

func (r *reportRepository) Latest(ctx context.Context) (*models.ReconciliationReport, error) {
	reports, err := r.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return reports[0], nil
}

func (r *reportRepository) List(ctx context.Context, limit int) ([]*models.ReconciliationReport, error) {
	query := r.db.Rebind(`
		SELECT id, run_at, tracker_total, crm_total, matched, tracker_only,
		       crm_only, mismatched, auto_fixed, status, details
		FROM reconciliation_reports
		ORDER BY run_at DESC
		LIMIT ?`)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation reports: %w", err)
	}
	defer rows.Close()

	reports := make([]*models.ReconciliationReport, 0)
	for rows.Next() {
		var (
			report          models.ReconciliationReport
			status, details sql.NullString
		)
		if err := rows.Scan(
			&report.ID, &report.RunAt, &report.TrackerTotal, &report.CRMTotal,
			&report.Matched, &report.TrackerOnly, &report.CRMOnly,
			&report.Mismatched, &report.AutoFixed, &status, &details,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation report: %w", err)
		}
		report.Status = status.String
		report.Details = details.String
		reports = append(reports, &report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}
	return reports, nil
}
