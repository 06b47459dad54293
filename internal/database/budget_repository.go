package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BudgetRepository stores project budgets. It implements domain.BudgetReader.
type BudgetRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBudgetRepository creates a budget repository
func NewBudgetRepository(db *sql.DB, log zerolog.Logger) *BudgetRepository {
	return &BudgetRepository{
		db:  db,
		log: log.With().Str("repo", "budgets").Logger(),
	}
}

// Upsert inserts or replaces a budget row, assigning an id when b.ID is empty.
func (r *BudgetRepository) Upsert(ctx context.Context, b domain.Budget) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (id, tenant_id, project_id, planned, actual, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			planned = excluded.planned,
			actual = excluded.actual,
			updated_at = excluded.updated_at`,
		b.ID, b.TenantID, b.ProjectID, b.Planned, b.Actual, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to upsert budget: %w", err)
	}
	return b.ID, nil
}

// FindBudgets returns the budget rows of the listed projects. No query runs
// for an empty id list.
func (r *BudgetRepository) FindBudgets(ctx context.Context, tenantID string, projectIDs []string) ([]domain.Budget, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}

	placeholders, idArgs := inClause(projectIDs)
	query := `SELECT id, tenant_id, project_id, planned, actual
		FROM budgets
		WHERE tenant_id = ? AND project_id IN (` + placeholders + `)
		ORDER BY project_id, id`

	rows, err := r.db.QueryContext(ctx, query, append([]interface{}{tenantID}, idArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer rows.Close()

	var budgets []domain.Budget
	for rows.Next() {
		var b domain.Budget
		if err := rows.Scan(&b.ID, &b.TenantID, &b.ProjectID, &b.Planned, &b.Actual); err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating budgets: %w", err)
	}
	return budgets, nil
}
