package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/rollup/internal/config"
	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/scheduler"
)

// JobInstances holds the cadence jobs so they can also be run on demand.
type JobInstances struct {
	Nightly *scheduler.TenantSweepJob
	Stale   *scheduler.TenantSweepJob
	WAL     *scheduler.CheckWALCheckpointsJob
}

// RegisterJobs creates the cadence jobs and registers them with a new
// scheduler. The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	jobs := &JobInstances{
		Nightly: scheduler.NewTenantSweepJob(scheduler.TenantSweepJobConfig{
			Kind:     domain.KindNightlyRefresh,
			Tenants:  container.ProjectRepo,
			Enqueuer: container.Enqueue,
			Fanout:   cfg.Scheduler.Fanout,
			Log:      log,
		}),
		Stale: scheduler.NewTenantSweepJob(scheduler.TenantSweepJobConfig{
			Kind:     domain.KindStaleRefresh,
			Tenants:  container.ProjectRepo,
			Enqueuer: container.Enqueue,
			Fanout:   cfg.Scheduler.Fanout,
			Log:      log,
		}),
		WAL: scheduler.NewCheckWALCheckpointsJob(container.DB, log),
	}

	sched := scheduler.New(log)
	entries := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.Scheduler.NightlyCron, jobs.Nightly},
		{cfg.Scheduler.StaleCron, jobs.Stale},
		{cfg.Scheduler.WALCron, jobs.WAL},
	}
	for _, e := range entries {
		if e.schedule == "" {
			log.Info().Str("job", e.job.Name()).Msg("No schedule, job disabled")
			continue
		}
		if err := sched.AddJob(e.schedule, e.job); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", e.job.Name(), err)
		}
	}
	container.Scheduler = sched
	return jobs, nil
}
