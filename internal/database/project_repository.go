package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/rs/zerolog"
)

// ProjectRepository reads project membership. It implements domain.ProjectFinder.
type ProjectRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewProjectRepository creates a project repository
func NewProjectRepository(db *sql.DB, log zerolog.Logger) *ProjectRepository {
	return &ProjectRepository{
		db:  db,
		log: log.With().Str("repo", "projects").Logger(),
	}
}

// Upsert inserts or replaces a project row.
func (r *ProjectRepository) Upsert(ctx context.Context, p domain.ProjectRef) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (tenant_id, id, name, portfolio_id, program_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			portfolio_id = excluded.portfolio_id,
			program_id = excluded.program_id,
			updated_at = excluded.updated_at`,
		p.TenantID, p.ID, p.Name, nullString(p.PortfolioID), nullString(p.ProgramID), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes a project row.
func (r *ProjectRepository) Delete(ctx context.Context, tenantID, projectID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE tenant_id = ? AND id = ?", tenantID, projectID); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", projectID, err)
	}
	return nil
}

func (r *ProjectRepository) GetProject(ctx context.Context, tenantID, projectID string) (*domain.ProjectRef, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, portfolio_id, program_id
		FROM projects WHERE tenant_id = ? AND id = ?`, tenantID, projectID)

	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", projectID, err)
	}
	return &p, nil
}

func (r *ProjectRepository) FindProjectsByScope(ctx context.Context, q domain.ProjectScopeQuery) ([]domain.ProjectRef, error) {
	var column, parentID string
	switch {
	case q.PortfolioID != "":
		column, parentID = "portfolio_id", q.PortfolioID
	case q.ProgramID != "":
		column, parentID = "program_id", q.ProgramID
	default:
		return nil, fmt.Errorf("project scope query needs a portfolio or program id")
	}

	query := `SELECT id, tenant_id, name, portfolio_id, program_id
		FROM projects WHERE tenant_id = ? AND ` + column + ` = ? ORDER BY id`
	return r.queryProjects(ctx, query, q.TenantID, parentID)
}

func (r *ProjectRepository) ListProjects(ctx context.Context, tenantID string, offset, limit int) ([]domain.ProjectRef, error) {
	return r.queryProjects(ctx, `
		SELECT id, tenant_id, name, portfolio_id, program_id
		FROM projects WHERE tenant_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		tenantID, limit, offset)
}

func (r *ProjectRepository) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT DISTINCT tenant_id FROM projects ORDER BY tenant_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return tenants, nil
}

func (r *ProjectRepository) queryProjects(ctx context.Context, query string, args ...interface{}) ([]domain.ProjectRef, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []domain.ProjectRef
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(s scanner) (domain.ProjectRef, error) {
	var p domain.ProjectRef
	var portfolioID, programID sql.NullString
	if err := s.Scan(&p.ID, &p.TenantID, &p.Name, &portfolioID, &programID); err != nil {
		return p, err
	}
	p.PortfolioID = portfolioID.String
	p.ProgramID = programID.String
	return p, nil
}
