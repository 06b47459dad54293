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

// MetricValueRepository stores leaf metric values. It implements
// domain.MetricValueReader.
type MetricValueRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewMetricValueRepository creates a metric value repository
func NewMetricValueRepository(db *sql.DB, log zerolog.Logger) *MetricValueRepository {
	return &MetricValueRepository{
		db:  db,
		log: log.With().Str("repo", "metric_values").Logger(),
	}
}

// Insert stores a value, assigning an id when v.ID is empty. It returns the id.
func (r *MetricValueRepository) Insert(ctx context.Context, v domain.MetricValue) (string, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metric_values (id, tenant_id, project_id, metric_code, as_of_date, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.TenantID, v.ProjectID, v.MetricCode, v.AsOfDate, v.Value, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert metric value: %w", err)
	}
	return v.ID, nil
}

// FindMetricValues returns values for the listed projects dated on or before
// q.AsOfDate. No query runs for an empty id list.
func (r *MetricValueRepository) FindMetricValues(ctx context.Context, q domain.MetricValueQuery) ([]domain.MetricValue, error) {
	if len(q.ProjectIDs) == 0 {
		return nil, nil
	}

	placeholders, idArgs := inClause(q.ProjectIDs)
	query := `SELECT id, tenant_id, project_id, metric_code, as_of_date, value
		FROM metric_values
		WHERE tenant_id = ? AND project_id IN (` + placeholders + `) AND as_of_date <= ?
		ORDER BY project_id, metric_code, as_of_date, id`

	args := append([]interface{}{q.TenantID}, idArgs...)
	args = append(args, q.AsOfDate)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric values: %w", err)
	}
	defer rows.Close()

	var values []domain.MetricValue
	for rows.Next() {
		var v domain.MetricValue
		if err := rows.Scan(&v.ID, &v.TenantID, &v.ProjectID, &v.MetricCode, &v.AsOfDate, &v.Value); err != nil {
			return nil, fmt.Errorf("failed to scan metric value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metric values: %w", err)
	}
	return values, nil
}
