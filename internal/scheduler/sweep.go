package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/aristath/rollup/internal/queue"
	"github.com/aristath/rollup/internal/rollup"
	"github.com/rs/zerolog"
)

// Defaults used when SweepConfig leaves a field zero.
const (
	DefaultPageSize     = 200
	DefaultLookbackDays = 1
)

// spreadWindow bounds the synthetic delay the nightly sweep adds per project.
const spreadWindow = 60

// SweepConfig tunes the sweeps.
type SweepConfig struct {
	PageSize     int
	LookbackDays int
}

// SweepProcessor runs the NightlyRefresh and StaleRefresh jobs of one tenant.
type SweepProcessor struct {
	flags     domain.FeatureFlags
	projects  domain.ProjectFinder
	snapshots domain.SnapshotStore
	enqueuer  rollup.Enqueuer
	cfg       SweepConfig
	now       func() time.Time
	log       zerolog.Logger
}

// NewSweepProcessor creates a sweep processor.
func NewSweepProcessor(
	flags domain.FeatureFlags,
	projects domain.ProjectFinder,
	snapshots domain.SnapshotStore,
	enqueuer rollup.Enqueuer,
	cfg SweepConfig,
	log zerolog.Logger,
) *SweepProcessor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultLookbackDays
	}
	return &SweepProcessor{
		flags:     flags,
		projects:  projects,
		snapshots: snapshots,
		enqueuer:  enqueuer,
		cfg:       cfg,
		now:       time.Now,
		log:       log.With().Str("component", "sweep").Logger(),
	}
}

// SetClock overrides the clock used to resolve today's date.
func (sp *SweepProcessor) SetClock(now func() time.Time) {
	sp.now = now
}

// Nightly enqueues a full recompute for every project of the tenant. Each
// project gets an extra delay of (offset+index) mod 60 seconds so a large
// tenant does not fire all at once.
func (sp *SweepProcessor) Nightly(ctx context.Context, p domain.JobPayload) (rollup.Result, error) {
	started := time.Now()
	p = sp.withDate(p)
	if err := p.Validate(domain.KindNightlyRefresh); err != nil {
		return rollup.Result{}, err
	}
	if !sp.flags.IsEnabled(domain.FlagNightlyRefresh) {
		sp.log.Debug().Str("tenant_id", p.TenantID).Msg("Nightly refresh disabled, skipping")
		return rollup.Result{}, nil
	}

	res := rollup.Result{Enqueued: []string{}}
	err := sp.eachPage(ctx, p.TenantID, func(offset int, page []domain.ProjectRef) error {
		for i, project := range page {
			spread := time.Duration((offset+i)%spreadWindow) * time.Second
			id, err := sp.enqueuer.Enqueue(ctx, domain.KindProjectRecomputeAll,
				sp.recomputePayload(p, project.ID, domain.ReasonNightlyRefresh),
				enqueue.WithExtraDelay(spread))
			if err != nil {
				return err
			}
			sp.record(&res, id)
		}
		return nil
	})
	if err != nil {
		return rollup.Result{}, err
	}

	sp.audit(domain.KindNightlyRefresh, p, res, started)
	return res, nil
}

// Stale enqueues a full recompute for every project of the tenant that has
// no project snapshot inside the lookback window ending on the as-of date.
func (sp *SweepProcessor) Stale(ctx context.Context, p domain.JobPayload) (rollup.Result, error) {
	started := time.Now()
	p = sp.withDate(p)
	if err := p.Validate(domain.KindStaleRefresh); err != nil {
		return rollup.Result{}, err
	}
	if !sp.flags.IsEnabled(domain.FlagStaleRefresh) {
		sp.log.Debug().Str("tenant_id", p.TenantID).Msg("Stale refresh disabled, skipping")
		return rollup.Result{}, nil
	}
	dates, err := LookbackDates(p.AsOfDate, sp.cfg.LookbackDays)
	if err != nil {
		return rollup.Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	res := rollup.Result{Enqueued: []string{}}
	err = sp.eachPage(ctx, p.TenantID, func(_ int, page []domain.ProjectRef) error {
		ids := make([]string, len(page))
		for i, project := range page {
			ids[i] = project.ID
		}
		fresh, err := sp.snapshots.ComputedScopes(ctx, p.TenantID, domain.ScopeProject, ids, dates)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if fresh[id] {
				res.SkippedCount++
				continue
			}
			jobID, err := sp.enqueuer.Enqueue(ctx, domain.KindProjectRecomputeAll,
				sp.recomputePayload(p, id, domain.ReasonStaleRefresh))
			if err != nil {
				return err
			}
			sp.record(&res, jobID)
		}
		return nil
	})
	if err != nil {
		return rollup.Result{}, err
	}

	sp.audit(domain.KindStaleRefresh, p, res, started)
	return res, nil
}

// Handle dispatches a scheduler queue job by kind.
func (sp *SweepProcessor) Handle(ctx context.Context, job *queue.Job) error {
	var err error
	switch job.Kind {
	case domain.KindNightlyRefresh:
		_, err = sp.Nightly(ctx, job.Payload)
	case domain.KindStaleRefresh:
		_, err = sp.Stale(ctx, job.Payload)
	default:
		err = fmt.Errorf("%w: sweep cannot run %q", domain.ErrInvalidPayload, job.Kind)
	}
	return err
}

// eachPage walks the tenant's projects in pages of the configured size.
func (sp *SweepProcessor) eachPage(ctx context.Context, tenantID string, fn func(offset int, page []domain.ProjectRef) error) error {
	for offset := 0; ; offset += sp.cfg.PageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := sp.projects.ListProjects(ctx, tenantID, offset, sp.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("failed to list projects at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(offset, page); err != nil {
			return err
		}
		if len(page) < sp.cfg.PageSize {
			return nil
		}
	}
}

func (sp *SweepProcessor) withDate(p domain.JobPayload) domain.JobPayload {
	if p.AsOfDate == "" {
		p.AsOfDate = domain.FormatDate(sp.now())
	}
	return p
}

func (sp *SweepProcessor) recomputePayload(p domain.JobPayload, projectID, reason string) domain.JobPayload {
	return domain.JobPayload{
		TenantID:      p.TenantID,
		ProjectID:     projectID,
		AsOfDate:      p.AsOfDate,
		Reason:        reason,
		CorrelationID: p.CorrelationID,
	}
}

// record counts an enqueue. An empty id means the broker was unavailable.
func (sp *SweepProcessor) record(res *rollup.Result, id string) {
	if id == "" {
		res.SkippedCount++
		return
	}
	res.Enqueued = append(res.Enqueued, id)
	res.ComputedCount++
}

func (sp *SweepProcessor) audit(kind domain.JobKind, p domain.JobPayload, res rollup.Result, started time.Time) {
	sp.log.Info().
		Str("context", string(kind)).
		Dict("scope_ids", zerolog.Dict().Str("tenant_id", p.TenantID)).
		Int("computed_count", res.ComputedCount).
		Int("skipped_count", res.SkippedCount).
		Str("as_of_date", p.AsOfDate).
		Str("correlation_id", p.CorrelationID).
		Int64("duration_ms", time.Since(started).Milliseconds()).
		Msg("Sweep finished")
}

// LookbackDates returns the days dates ending on asOfDate, newest first.
func LookbackDates(asOfDate string, days int) ([]string, error) {
	end, err := time.Parse(domain.DateLayout, asOfDate)
	if err != nil {
		return nil, fmt.Errorf("invalid as-of date %q: %w", asOfDate, err)
	}
	if days <= 0 {
		days = 1
	}
	dates := make([]string, days)
	for i := range dates {
		dates[i] = end.AddDate(0, 0, -i).Format(domain.DateLayout)
	}
	return dates, nil
}
