package domain

import "context"

// Feature flag names.
const (
	FlagRecompute       = "kpi.recompute"
	FlagPortfolioRollup = "kpi.rollup.portfolio"
	FlagProgramRollup   = "kpi.rollup.program"
	FlagNightlyRefresh  = "kpi.scheduler.nightly"
	FlagStaleRefresh    = "kpi.scheduler.stale"
)

// AllFlags lists every flag the pipeline reads.
var AllFlags = []string{
	FlagRecompute,
	FlagPortfolioRollup,
	FlagProgramRollup,
	FlagNightlyRefresh,
	FlagStaleRefresh,
}

// FeatureFlags answers flag lookups. Implementations must return the current value on
// every call; flags may flip between enqueue and execution.
type FeatureFlags interface {
	IsEnabled(name string) bool
}

// MetricResult is one metric computed for a project.
type MetricResult struct {
	Code  string
	Value float64
}

// SkippedMetric is a metric the calculator could not compute.
type SkippedMetric struct {
	Code   string
	Reason string
}

// CalculationResult is what the calculator reports for one project.
type CalculationResult struct {
	Computed []MetricResult
	Skipped  []SkippedMetric
}

// Calculator computes and persists the leaf metric values of one project.
// An empty codes slice means every metric.
type Calculator interface {
	ComputeForProject(ctx context.Context, tenantID, projectID, asOfDate string, codes []string) (*CalculationResult, error)
}

// ProjectScopeQuery selects the child projects of one aggregate.
// Exactly one of PortfolioID and ProgramID is set.
type ProjectScopeQuery struct {
	TenantID    string
	PortfolioID string
	ProgramID   string
}

// ProjectFinder resolves projects. Every lookup is scoped by tenant.
type ProjectFinder interface {
	// GetProject returns nil, nil when the project does not exist.
	GetProject(ctx context.Context, tenantID, projectID string) (*ProjectRef, error)
	FindProjectsByScope(ctx context.Context, q ProjectScopeQuery) ([]ProjectRef, error)
	ListProjects(ctx context.Context, tenantID string, offset, limit int) ([]ProjectRef, error)
	ListTenants(ctx context.Context) ([]string, error)
}

// MetricValueQuery selects leaf values for an explicit set of projects.
type MetricValueQuery struct {
	TenantID   string
	ProjectIDs []string
	AsOfDate   string // values dated on or before this date
}

// MetricValueReader loads leaf values keyed by explicit project ids.
type MetricValueReader interface {
	FindMetricValues(ctx context.Context, q MetricValueQuery) ([]MetricValue, error)
}

// BudgetReader loads budget rows keyed by explicit project ids.
type BudgetReader interface {
	FindBudgets(ctx context.Context, tenantID string, projectIDs []string) ([]Budget, error)
}

// SnapshotStore persists aggregate snapshots.
type SnapshotStore interface {
	// GetSnapshot returns nil, nil when no row exists for the key.
	GetSnapshot(ctx context.Context, key SnapshotKey) (*Snapshot, error)
	UpsertSnapshot(ctx context.Context, s *Snapshot) error
	// ComputedScopes returns the subset of scopeIDs computed for any of dates:
	// at least one snapshot exists or a run was recorded.
	ComputedScopes(ctx context.Context, tenantID string, scopeType ScopeType, scopeIDs []string, dates []string) (map[string]bool, error)
}
