package rollup

import (
	"context"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/queue"
	"github.com/rs/zerolog"
)

// ProjectProcessor recomputes one project and cascades to its aggregates.
type ProjectProcessor struct {
	deps Deps
	log  zerolog.Logger
}

// NewProjectProcessor creates a project recompute processor.
func NewProjectProcessor(deps Deps, log zerolog.Logger) *ProjectProcessor {
	return &ProjectProcessor{
		deps: deps,
		log:  log.With().Str("component", "project_recompute").Logger(),
	}
}

// Process runs a ProjectRecompute or ProjectRecomputeAll job.
//
// Flag off, missing tokens and a deleted project are soft no-ops. Calculator
// errors are returned so the job is retried.
func (pp *ProjectProcessor) Process(ctx context.Context, kind domain.JobKind, p domain.JobPayload) (Result, error) {
	started := time.Now()
	if err := p.Validate(kind); err != nil {
		return Result{}, err
	}
	log := pp.log.With().
		Str("tenant_id", p.TenantID).
		Str("project_id", p.ProjectID).
		Str("correlation_id", p.CorrelationID).
		Logger()

	if !pp.deps.Flags.IsEnabled(domain.FlagRecompute) {
		log.Debug().Msg("Recompute disabled, skipping")
		return Result{}, nil
	}

	if !pp.deps.Limiter.TryConsume(p.TenantID) {
		pp.deps.Metrics.Throttled(string(kind))
		log.Debug().Msg("Tenant rate limited, rescheduling")
		return Result{Throttled: true}, nil
	}

	project, err := pp.deps.Projects.GetProject(ctx, p.TenantID, p.ProjectID)
	if err != nil {
		return Result{}, err
	}
	if project == nil {
		log.Warn().Msg("Project not found, skipping recompute")
		return Result{}, nil
	}

	var codes []string
	if kind == domain.KindProjectRecompute {
		codes = p.MetricCodes
	}
	calc, err := pp.deps.Calculator.ComputeForProject(ctx, p.TenantID, p.ProjectID, p.AsOfDate, codes)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		ComputedCount: len(calc.Computed),
		SkippedCount:  len(calc.Skipped),
		Enqueued:      []string{},
	}
	res.Enqueued = append(res.Enqueued, pp.cascade(ctx, project, p, log)...)

	audit(log, string(kind), zerolog.Dict().
		Str("tenant_id", p.TenantID).
		Str("project_id", p.ProjectID).
		Str("portfolio_id", project.PortfolioID).
		Str("program_id", project.ProgramID), p, res, started)
	return res, nil
}

// cascade enqueues the rollups of the aggregates the project belongs to.
// Enqueue failures are logged; the sweep catches up on missed rollups.
func (pp *ProjectProcessor) cascade(ctx context.Context, project *domain.ProjectRef, p domain.JobPayload, log zerolog.Logger) []string {
	var ids []string
	parent := domain.JobPayload{
		TenantID:      p.TenantID,
		AsOfDate:      p.AsOfDate,
		Reason:        domain.ReasonRollupCascade,
		CorrelationID: p.CorrelationID,
	}

	if project.PortfolioID != "" && pp.deps.Flags.IsEnabled(domain.FlagPortfolioRollup) {
		job := parent
		job.PortfolioID = project.PortfolioID
		if id, err := pp.deps.Enqueuer.Enqueue(ctx, domain.KindPortfolioRollup, job); err != nil {
			log.Error().Err(err).Str("portfolio_id", project.PortfolioID).Msg("Failed to enqueue portfolio rollup")
		} else if id != "" {
			ids = append(ids, id)
		}
	}

	if project.ProgramID != "" && pp.deps.Flags.IsEnabled(domain.FlagProgramRollup) {
		job := parent
		job.ProgramID = project.ProgramID
		if id, err := pp.deps.Enqueuer.Enqueue(ctx, domain.KindProgramRollup, job); err != nil {
			log.Error().Err(err).Str("program_id", project.ProgramID).Msg("Failed to enqueue program rollup")
		} else if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Handle adapts Process to the worker pool.
func (pp *ProjectProcessor) Handle(ctx context.Context, job *queue.Job) error {
	res, err := pp.Process(ctx, job.Kind, job.Payload)
	if err != nil {
		return err
	}
	if res.Throttled {
		return queue.Requeue(pp.deps.requeueDelay())
	}
	return nil
}
