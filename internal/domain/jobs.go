package domain

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// JobKind identifies what a queued job does.
type JobKind string

const (
	KindProjectRecompute    JobKind = "project_recompute"
	KindProjectRecomputeAll JobKind = "project_recompute_all"
	KindPortfolioRollup     JobKind = "portfolio_rollup"
	KindProgramRollup       JobKind = "program_rollup"
	KindNightlyRefresh      JobKind = "nightly_refresh"
	KindStaleRefresh        JobKind = "stale_refresh"
)

// AllKinds lists every job kind in a stable order.
var AllKinds = []JobKind{
	KindProjectRecompute,
	KindProjectRecomputeAll,
	KindPortfolioRollup,
	KindProgramRollup,
	KindNightlyRefresh,
	KindStaleRefresh,
}

// QueueName names one of the broker queues.
type QueueName string

const (
	QueueRecompute QueueName = "recompute"
	QueueRollup    QueueName = "rollup"
	QueueScheduler QueueName = "scheduler"
)

// AllQueues lists every queue in a stable order.
var AllQueues = []QueueName{QueueRecompute, QueueRollup, QueueScheduler}

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case KindProjectRecompute, KindProjectRecomputeAll, KindPortfolioRollup,
		KindProgramRollup, KindNightlyRefresh, KindStaleRefresh:
		return true
	}
	return false
}

// Prefix returns the short key prefix used when building job keys.
func (k JobKind) Prefix() string {
	switch k {
	case KindProjectRecompute:
		return "kpi-project"
	case KindProjectRecomputeAll:
		return "kpi-project-all"
	case KindPortfolioRollup:
		return "kpi-portfolio"
	case KindProgramRollup:
		return "kpi-program"
	case KindNightlyRefresh:
		return "kpi-nightly"
	case KindStaleRefresh:
		return "kpi-stale"
	default:
		return string(k)
	}
}

// Queue returns the queue a job kind is processed on.
func (k JobKind) Queue() QueueName {
	switch k {
	case KindPortfolioRollup, KindProgramRollup:
		return QueueRollup
	case KindNightlyRefresh, KindStaleRefresh:
		return QueueScheduler
	default:
		return QueueRecompute
	}
}

// ScopeType returns the kind of entity the job targets.
func (k JobKind) ScopeType() ScopeType {
	switch k {
	case KindPortfolioRollup:
		return ScopePortfolio
	case KindProgramRollup:
		return ScopeProgram
	case KindNightlyRefresh, KindStaleRefresh:
		return ScopeTenant
	default:
		return ScopeProject
	}
}

// Job reasons. The reason is carried for tracing only and never participates in a job key.
const (
	ReasonEvent          = "EVENT"
	ReasonNightlyRefresh = "NIGHTLY_REFRESH"
	ReasonStaleRefresh   = "STALE_REFRESH"
	ReasonRollupCascade  = "ROLLUP_CASCADE"
	ReasonManual         = "MANUAL"
)

// JobPayload is the body of every queued job.
type JobPayload struct {
	TenantID      string   `msgpack:"tenant_id" json:"tenant_id" validate:"required"`
	ProjectID     string   `msgpack:"project_id,omitempty" json:"project_id,omitempty"`
	PortfolioID   string   `msgpack:"portfolio_id,omitempty" json:"portfolio_id,omitempty"`
	ProgramID     string   `msgpack:"program_id,omitempty" json:"program_id,omitempty"`
	AsOfDate      string   `msgpack:"as_of_date" json:"as_of_date" validate:"required,datetime=2006-01-02"`
	MetricCodes   []string `msgpack:"metric_codes,omitempty" json:"metric_codes,omitempty" validate:"omitempty,dive,required"`
	Reason        string   `msgpack:"reason,omitempty" json:"reason,omitempty"`
	CorrelationID string   `msgpack:"correlation_id,omitempty" json:"correlation_id,omitempty"`
}

// ScopeID returns the id of the entity the payload targets for the given kind.
func (p JobPayload) ScopeID(kind JobKind) string {
	switch kind.ScopeType() {
	case ScopePortfolio:
		return p.PortfolioID
	case ScopeProgram:
		return p.ProgramID
	case ScopeTenant:
		return p.TenantID
	default:
		return p.ProjectID
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks that the payload carries every scope field the kind needs.
// Failures wrap ErrInvalidPayload.
func (p JobPayload) Validate(kind JobKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown job kind %q", ErrInvalidPayload, kind)
	}
	if err := payloadValidator().Struct(p); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
	}
	if p.ScopeID(kind) == "" {
		return fmt.Errorf("%w: %s requires a %s id", ErrInvalidPayload, kind, kind.ScopeType())
	}
	if kind == KindProjectRecompute && len(p.MetricCodes) == 0 {
		return fmt.Errorf("%w: %s requires at least one metric code", ErrInvalidPayload, kind)
	}
	return nil
}
