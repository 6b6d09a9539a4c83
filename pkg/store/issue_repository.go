package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relayforge/bridge-engine/pkg/models"
)

// IssueRepository stores reconciliation findings. Rows are append-only from
// the engine's point of view; resolution is a manual operation.
type IssueRepository interface {
	Add(ctx context.Context, issue *models.ReconciliationIssue) error
	Unresolved(ctx context.Context, limit int) ([]*models.ReconciliationIssue, error)
	CountUnresolved(ctx context.Context) (int, error)
	Resolve(ctx context.Context, id int64) error
}

type issueRepository struct {
	db *DB
}

// NewIssueRepository creates a new IssueRepository.
func NewIssueRepository(db *DB) IssueRepository {
	return &issueRepository{db: db}
}

var _ IssueRepository = (*issueRepository)(nil)

func (r *issueRepository) Add(ctx context.Context, issue *models.ReconciliationIssue) error {
	query := r.db.Rebind(`
		INSERT INTO reconciliation_issue (
			created_at, source, entity_type, entity_id, issue_type, detail, resolved
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	id, err := r.db.InsertReturningID(ctx, query,
		time.Now().UTC(), issue.Source, issue.EntityType, issue.EntityID,
		issue.IssueType, issue.Detail, false,
	)
	if err != nil {
		return fmt.Errorf("failed to add reconciliation issue: %w", err)
	}
	issue.ID = id
	return nil
}

func (r *issueRepository) Unresolved(ctx context.Context, limit int) ([]*models.ReconciliationIssue, error) {
	query := r.db.Rebind(`
		SELECT id, created_at, source, entity_type, entity_id, issue_type, detail, resolved
		FROM reconciliation_issue
		WHERE resolved = ?
		ORDER BY created_at DESC
		LIMIT ?`)

	rows, err := r.db.QueryContext(ctx, query, false, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved issues: %w", err)
	}
	defer rows.Close()

	issues := make([]*models.ReconciliationIssue, 0)
	for rows.Next() {
		var (
			issue            models.ReconciliationIssue
			entityID, detail sql.NullString
		)
		if err := rows.Scan(
			&issue.ID, &issue.CreatedAt, &issue.Source, &issue.EntityType,
			&entityID, &issue.IssueType, &detail, &issue.Resolved,
		); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issue.EntityID = entityID.String
		issue.Detail = detail.String
		issues = append(issues, &issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating issues: %w", err)
	}
	return issues, nil
}

func (r *issueRepository) CountUnresolved(ctx context.Context) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM reconciliation_issue WHERE resolved = ?`)

	var count int
	if err := r.db.QueryRowContext(ctx, query, false).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unresolved issues: %w", err)
	}
	return count, nil
}

// Resolve marks an issue handled. Only reachable from the maintenance CLI.
func (r *issueRepository) Resolve(ctx context.Context, id int64) error {
	query := r.db.Rebind(`UPDATE reconciliation_issue SET resolved = ? WHERE id = ?`)

	if _, err := r.db.ExecContext(ctx, query, true, id); err != nil {
		return fmt.Errorf("failed to resolve issue: %w", err)
	}
	return nil
}
