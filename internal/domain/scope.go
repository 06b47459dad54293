package domain

import (
	"encoding/json"
	"time"
)

// ScopeType names the entity level a snapshot or job belongs to.
type ScopeType string

const (
	ScopeTenant    ScopeType = "tenant"
	ScopeProject   ScopeType = "project"
	ScopePortfolio ScopeType = "portfolio"
	ScopeProgram   ScopeType = "program"
)

// DateLayout is the layout of every as-of date.
const DateLayout = "2006-01-02"

// FormatDate renders t as an as-of date in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ProjectRef is the slice of a project the pipeline needs.
type ProjectRef struct {
	ID          string
	TenantID    string
	Name        string
	PortfolioID string
	ProgramID   string
}

// MetricValue is a leaf metric value stored for a project.
type MetricValue struct {
	ID         string
	TenantID   string
	ProjectID  string
	MetricCode string
	AsOfDate   string
	Value      float64
}

// Budget is a budget row attached to a project.
type Budget struct {
	ID        string
	TenantID  string
	ProjectID string
	Planned   float64
	Actual    float64
}

// SnapshotKey identifies one snapshot row.
type SnapshotKey struct {
	TenantID   string
	ScopeType  ScopeType
	ScopeID    string
	AsOfDate   string
	MetricCode string
}

// Snapshot is one computed aggregate value.
type Snapshot struct {
	SnapshotKey
	Value         float64
	ValueDetail   json.RawMessage
	InputHash     string
	EngineVersion string
	ComputedAt    time.Time
}
