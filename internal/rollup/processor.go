// Package rollup runs the project recompute and the aggregate rollups.
package rollup

import (
	"context"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/aristath/rollup/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultRequeueDelay is used when Deps.RequeueDelay is zero.
const DefaultRequeueDelay = 10 * time.Second

// Limiter hands out per-tenant tokens.
type Limiter interface {
	TryConsume(tenantID string) bool
}

// Enqueuer submits follow-up jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind domain.JobKind, p domain.JobPayload, opts ...enqueue.Option) (string, error)
}

// Deps are the collaborators shared by every processor.
type Deps struct {
	Flags      domain.FeatureFlags
	Limiter    Limiter
	Projects   domain.ProjectFinder
	Calculator domain.Calculator
	Values     domain.MetricValueReader
	Budgets    domain.BudgetReader
	Snapshots  domain.SnapshotStore
	Enqueuer   Enqueuer
	Metrics    *metrics.Metrics

	RequeueDelay time.Duration
	Now          func() time.Time
}

func (d Deps) requeueDelay() time.Duration {
	if d.RequeueDelay <= 0 {
		return DefaultRequeueDelay
	}
	return d.RequeueDelay
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// Result is what one processor run did. A zero Result means the run was a
// soft no-op.
type Result struct {
	ComputedCount int      `json:"computed_count"`
	SkippedCount  int      `json:"skipped_count"`
	InputHash     string   `json:"input_hash,omitempty"`
	Enqueued      []string `json:"enqueued,omitempty"`
	// Throttled is set when the tenant had no token; the job must run again later.
	Throttled bool `json:"throttled,omitempty"`
}

// audit writes the single structured record every processor run emits.
func audit(log zerolog.Logger, context string, scope *zerolog.Event, p domain.JobPayload, res Result, started time.Time) {
	event := log.Info().
		Str("context", context).
		Dict("scope_ids", scope).
		Int("computed_count", res.ComputedCount).
		Int("skipped_count", res.SkippedCount).
		Str("input_hash", res.InputHash).
		Str("correlation_id", p.CorrelationID).
		Str("reason", p.Reason).
		Int64("duration_ms", time.Since(started).Milliseconds())
	if res.Enqueued != nil {
		event = event.Strs("enqueued", res.Enqueued)
	}
	event.Msg("Processor run finished")
}
