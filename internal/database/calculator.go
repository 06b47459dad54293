package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/rs/zerolog"
)

// Skip reasons reported by the calculator.
const (
	SkipNoSourceValue = "no_source_value"
	SkipZeroDivisor   = "zero_divisor"
)

// Calculator materialises project-scope snapshots from the latest leaf
// values and budget rows of a project, and records every run so a project
// with nothing computable still counts as computed for the date. It
// implements domain.Calculator.
type Calculator struct {
	values    *MetricValueRepository
	budgets   *BudgetRepository
	snapshots *SnapshotRepository
	now       func() time.Time
	log       zerolog.Logger
}

// NewCalculator creates a calculator over the given repositories.
func NewCalculator(values *MetricValueRepository, budgets *BudgetRepository, snapshots *SnapshotRepository, log zerolog.Logger) *Calculator {
	return &Calculator{
		values:    values,
		budgets:   budgets,
		snapshots: snapshots,
		now:       time.Now,
		log:       log.With().Str("component", "calculator").Logger(),
	}
}

// SetClock replaces the time source used for computed_at.
func (c *Calculator) SetClock(now func() time.Time) {
	c.now = now
}

type resolved struct {
	value  float64
	source string
	refs   []string
}

func (c *Calculator) ComputeForProject(ctx context.Context, tenantID, projectID, asOfDate string, codes []string) (*domain.CalculationResult, error) {
	if len(codes) == 0 {
		codes = domain.AllMetricCodes
	}

	values, err := c.values.FindMetricValues(ctx, domain.MetricValueQuery{
		TenantID:   tenantID,
		ProjectIDs: []string{projectID},
		AsOfDate:   asOfDate,
	})
	if err != nil {
		return nil, err
	}
	// Rows are ordered by date then id, so the last one per code wins.
	latest := make(map[string]domain.MetricValue, len(values))
	for _, v := range values {
		latest[v.MetricCode] = v
	}

	budgets, err := c.budgets.FindBudgets(ctx, tenantID, []string{projectID})
	if err != nil {
		return nil, err
	}

	result := &domain.CalculationResult{}
	for _, code := range codes {
		r, reason := resolve(code, latest, budgets)
		if reason != "" {
			result.Skipped = append(result.Skipped, domain.SkippedMetric{Code: code, Reason: reason})
			continue
		}
		if err := c.write(ctx, tenantID, projectID, asOfDate, code, r); err != nil {
			return nil, err
		}
		result.Computed = append(result.Computed, domain.MetricResult{Code: code, Value: r.value})
	}

	run := domain.SnapshotKey{TenantID: tenantID, ScopeType: domain.ScopeProject, ScopeID: projectID, AsOfDate: asOfDate}
	if err := c.snapshots.RecordRun(ctx, run, len(result.Computed), len(result.Skipped), c.now().UTC()); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Calculator) write(ctx context.Context, tenantID, projectID, asOfDate, code string, r resolved) error {
	key := domain.SnapshotKey{
		TenantID:   tenantID,
		ScopeType:  domain.ScopeProject,
		ScopeID:    projectID,
		AsOfDate:   asOfDate,
		MetricCode: code,
	}
	hash := domain.InputHash(r.refs, asOfDate)

	existing, err := c.snapshots.GetSnapshot(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil && existing.InputHash == hash {
		return nil
	}

	detail, err := json.Marshal(map[string]interface{}{"source": r.source, "inputs": len(r.refs)})
	if err != nil {
		return fmt.Errorf("failed to encode value detail: %w", err)
	}
	return c.snapshots.UpsertSnapshot(ctx, &domain.Snapshot{
		SnapshotKey:   key,
		Value:         r.value,
		ValueDetail:   detail,
		InputHash:     hash,
		EngineVersion: domain.EngineVersion,
		ComputedAt:    c.now().UTC(),
	})
}

// resolve finds the value of code from a stored value, the budget rows, or
// the ratio of two stored values. A non-empty reason means no value.
func resolve(code string, latest map[string]domain.MetricValue, budgets []domain.Budget) (resolved, string) {
	if v, ok := latest[code]; ok {
		return resolved{value: v.Value, source: "value", refs: []string{valueRef(v)}}, ""
	}

	switch code {
	case domain.MetricBudgetPlanned, domain.MetricBudgetActual, domain.MetricBudgetBurnRate:
		if len(budgets) == 0 {
			return resolved{}, SkipNoSourceValue
		}
		var planned, actual float64
		refs := make([]string, 0, len(budgets))
		for _, b := range budgets {
			planned += b.Planned
			actual += b.Actual
			refs = append(refs, budgetRef(b))
		}
		switch code {
		case domain.MetricBudgetPlanned:
			return resolved{value: planned, source: "budget", refs: refs}, ""
		case domain.MetricBudgetActual:
			return resolved{value: actual, source: "budget", refs: refs}, ""
		}
		if planned == 0 {
			return resolved{}, SkipZeroDivisor
		}
		return resolved{value: actual / planned, source: "budget", refs: refs}, ""

	case domain.MetricTaskCompletionRate:
		total, okTotal := latest[domain.MetricTasksTotal]
		done, okDone := latest[domain.MetricTasksCompleted]
		if !okTotal || !okDone {
			return resolved{}, SkipNoSourceValue
		}
		if total.Value == 0 {
			return resolved{}, SkipZeroDivisor
		}
		return resolved{
			value:  done.Value / total.Value,
			source: "derived",
			refs:   []string{valueRef(total), valueRef(done)},
		}, ""
	}
	return resolved{}, SkipNoSourceValue
}

func valueRef(v domain.MetricValue) string {
	return v.ID + ":" + v.AsOfDate + ":" + strconv.FormatFloat(v.Value, 'g', -1, 64)
}

func budgetRef(b domain.Budget) string {
	return "budget:" + b.ID + ":" + strconv.FormatFloat(b.Planned, 'g', -1, 64) + ":" + strconv.FormatFloat(b.Actual, 'g', -1, 64)
}
