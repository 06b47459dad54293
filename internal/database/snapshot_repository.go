package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/rs/zerolog"
)

// SnapshotRepository persists computed snapshots. It implements
// domain.SnapshotStore, and domain.MetricValueReader over project snapshots.
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a snapshot repository
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

func (r *SnapshotRepository) GetSnapshot(ctx context.Context, key domain.SnapshotKey) (*domain.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT value, value_detail, input_hash, engine_version, computed_at
		FROM kpi_snapshots
		WHERE tenant_id = ? AND scope_type = ? AND scope_id = ? AND as_of_date = ? AND metric_code = ?`,
		key.TenantID, string(key.ScopeType), key.ScopeID, key.AsOfDate, key.MetricCode,
	)

	s := domain.Snapshot{SnapshotKey: key}
	var detail sql.NullString
	var computedAt int64
	err := row.Scan(&s.Value, &detail, &s.InputHash, &s.EngineVersion, &computedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if detail.Valid {
		s.ValueDetail = []byte(detail.String)
	}
	s.ComputedAt = time.UnixMilli(computedAt).UTC()
	return &s, nil
}

func (r *SnapshotRepository) UpsertSnapshot(ctx context.Context, s *domain.Snapshot) error {
	var detail interface{}
	if len(s.ValueDetail) > 0 {
		detail = string(s.ValueDetail)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kpi_snapshots
			(tenant_id, scope_type, scope_id, as_of_date, metric_code, value, value_detail, input_hash, engine_version, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, scope_type, scope_id, as_of_date, metric_code) DO UPDATE SET
			value = excluded.value,
			value_detail = excluded.value_detail,
			input_hash = excluded.input_hash,
			engine_version = excluded.engine_version,
			computed_at = excluded.computed_at`,
		s.TenantID, string(s.ScopeType), s.ScopeID, s.AsOfDate, s.MetricCode,
		s.Value, detail, s.InputHash, s.EngineVersion, s.ComputedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot %s/%s/%s: %w", s.ScopeID, s.AsOfDate, s.MetricCode, err)
	}
	return nil
}

func (r *SnapshotRepository) ComputedScopes(ctx context.Context, tenantID string, scopeType domain.ScopeType, scopeIDs []string, dates []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(scopeIDs) == 0 || len(dates) == 0 {
		return found, nil
	}

	idPlaceholders, idArgs := inClause(scopeIDs)
	datePlaceholders, dateArgs := inClause(dates)
	filter := `WHERE tenant_id = ? AND scope_type = ?
		AND scope_id IN (` + idPlaceholders + `)
		AND as_of_date IN (` + datePlaceholders + `)`
	query := `SELECT scope_id FROM kpi_snapshots ` + filter + `
		UNION
		SELECT scope_id FROM kpi_runs ` + filter

	filterArgs := append([]interface{}{tenantID, string(scopeType)}, idArgs...)
	filterArgs = append(filterArgs, dateArgs...)
	args := append(append([]interface{}{}, filterArgs...), filterArgs...)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query computed scopes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan computed scope: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating computed scopes: %w", err)
	}
	return found, nil
}

// RecordRun notes that a computation ran for a scope and date, with its
// computed and skipped counts.
func (r *SnapshotRepository) RecordRun(ctx context.Context, key domain.SnapshotKey, computed, skipped int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kpi_runs (tenant_id, scope_type, scope_id, as_of_date, computed, skipped, ran_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, scope_type, scope_id, as_of_date) DO UPDATE SET
			computed = excluded.computed,
			skipped = excluded.skipped,
			ran_at = excluded.ran_at`,
		key.TenantID, string(key.ScopeType), key.ScopeID, key.AsOfDate, computed, skipped, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s/%s: %w", key.ScopeID, key.AsOfDate, err)
	}
	return nil
}

// FindMetricValues returns the project-scope snapshots of the listed projects
// dated on or before q.AsOfDate, as leaf values for the aggregate rollups.
// The snapshot's input hash stands in for the row id so a changed input
// yields a changed reference. No query runs for an empty id list.
func (r *SnapshotRepository) FindMetricValues(ctx context.Context, q domain.MetricValueQuery) ([]domain.MetricValue, error) {
	if len(q.ProjectIDs) == 0 {
		return nil, nil
	}

	placeholders, idArgs := inClause(q.ProjectIDs)
	query := `SELECT input_hash, scope_id, metric_code, as_of_date, value
		FROM kpi_snapshots
		WHERE tenant_id = ? AND scope_type = ? AND scope_id IN (` + placeholders + `) AND as_of_date <= ?
		ORDER BY scope_id, metric_code, as_of_date`

	args := append([]interface{}{q.TenantID, string(domain.ScopeProject)}, idArgs...)
	args = append(args, q.AsOfDate)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query project snapshots: %w", err)
	}
	defer rows.Close()

	var values []domain.MetricValue
	for rows.Next() {
		v := domain.MetricValue{TenantID: q.TenantID}
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.MetricCode, &v.AsOfDate, &v.Value); err != nil {
			return nil, fmt.Errorf("failed to scan project snapshot: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project snapshots: %w", err)
	}
	return values, nil
}

// ListSnapshots returns every snapshot of one scope and date, ordered by code.
func (r *SnapshotRepository) ListSnapshots(ctx context.Context, tenantID string, scopeType domain.ScopeType, scopeID, asOfDate string) ([]domain.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT metric_code, value, value_detail, input_hash, engine_version, computed_at
		FROM kpi_snapshots
		WHERE tenant_id = ? AND scope_type = ? AND scope_id = ? AND as_of_date = ?
		ORDER BY metric_code`,
		tenantID, string(scopeType), scopeID, asOfDate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		s := domain.Snapshot{SnapshotKey: domain.SnapshotKey{
			TenantID: tenantID, ScopeType: scopeType, ScopeID: scopeID, AsOfDate: asOfDate,
		}}
		var detail sql.NullString
		var computedAt int64
		if err := rows.Scan(&s.MetricCode, &s.Value, &detail, &s.InputHash, &s.EngineVersion, &computedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if detail.Valid {
			s.ValueDetail = []byte(detail.String)
		}
		s.ComputedAt = time.UnixMilli(computedAt).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return out, nil
}
