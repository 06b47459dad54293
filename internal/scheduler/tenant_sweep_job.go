package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/rollup"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultFanout bounds concurrent enqueues when a cadence tick covers many tenants.
const DefaultFanout = 8

// TenantLister lists the tenants a sweep covers.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// TenantSweepJob enqueues one sweep job per tenant on each cadence tick.
type TenantSweepJob struct {
	kind     domain.JobKind
	tenants  TenantLister
	enqueuer rollup.Enqueuer
	fanout   int
	now      func() time.Time
	log      zerolog.Logger
}

// TenantSweepJobConfig holds the dependencies of a TenantSweepJob.
type TenantSweepJobConfig struct {
	Kind     domain.JobKind
	Tenants  TenantLister
	Enqueuer rollup.Enqueuer
	Fanout   int
	Log      zerolog.Logger
}

// NewTenantSweepJob creates a cadence job for KindNightlyRefresh or KindStaleRefresh.
func NewTenantSweepJob(cfg TenantSweepJobConfig) *TenantSweepJob {
	if cfg.Fanout <= 0 {
		cfg.Fanout = DefaultFanout
	}
	return &TenantSweepJob{
		kind:     cfg.Kind,
		tenants:  cfg.Tenants,
		enqueuer: cfg.Enqueuer,
		fanout:   cfg.Fanout,
		now:      time.Now,
		log:      cfg.Log.With().Str("job", string(cfg.Kind)).Logger(),
	}
}

// Name returns the job name.
func (j *TenantSweepJob) Name() string {
	return string(j.kind)
}

// Run enqueues the sweep for every tenant. A failed enqueue for one tenant
// does not stop the others; the first error is returned.
func (j *TenantSweepJob) Run(ctx context.Context) error {
	tenants, err := j.tenants.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	reason := domain.ReasonNightlyRefresh
	if j.kind == domain.KindStaleRefresh {
		reason = domain.ReasonStaleRefresh
	}
	asOf := domain.FormatDate(j.now())
	correlationID := uuid.NewString()

	var enqueued atomic.Int64
	var g errgroup.Group
	g.SetLimit(j.fanout)
	for _, tenant := range tenants {
		g.Go(func() error {
			id, err := j.enqueuer.Enqueue(ctx, j.kind, domain.JobPayload{
				TenantID:      tenant,
				AsOfDate:      asOf,
				Reason:        reason,
				CorrelationID: correlationID,
			})
			if err != nil {
				j.log.Error().Err(err).Str("tenant_id", tenant).Msg("Failed to enqueue sweep")
				return err
			}
			if id != "" {
				enqueued.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	j.log.Info().
		Int("tenants", len(tenants)).
		Int64("enqueued", enqueued.Load()).
		Str("as_of_date", asOf).
		Str("correlation_id", correlationID).
		Msg("Sweep fan-out finished")
	return err
}
