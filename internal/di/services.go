package di

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/aristath/rollup/internal/config"
	"github.com/aristath/rollup/internal/database"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/aristath/rollup/internal/events"
	"github.com/aristath/rollup/internal/flags"
	"github.com/aristath/rollup/internal/metrics"
	"github.com/aristath/rollup/internal/ratelimit"
	"github.com/aristath/rollup/internal/rollup"
	"github.com/aristath/rollup/internal/scheduler"
)

// InitializeServices creates the flag store, limiter, enqueue service, event
// mapper and every processor.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Registry = prometheus.NewRegistry()
	container.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	container.Metrics = metrics.New(container.Registry)

	fs, err := flags.Load(cfg.FlagsFile, cfg.DefaultFlags, log)
	if err != nil {
		return fmt.Errorf("failed to load flags: %w", err)
	}
	container.Flags = fs

	container.Limiter = ratelimit.New(cfg.Limiter.TokensPerSecond, cfg.Limiter.Burst)
	container.Calculator = database.NewCalculator(
		container.MetricValueRepo,
		container.BudgetRepo,
		container.SnapshotRepo,
		log,
	)
	container.Enqueue = enqueue.NewService(container.Queue, cfg.Policies, container.Metrics, log)
	container.Mapper = events.NewMapper(container.Enqueue, container.Flags, log)

	deps := rollup.Deps{
		Flags:        container.Flags,
		Limiter:      container.Limiter,
		Projects:     container.ProjectRepo,
		Calculator:   container.Calculator,
		Values:       container.SnapshotRepo,
		Budgets:      container.BudgetRepo,
		Snapshots:    container.SnapshotRepo,
		Enqueuer:     container.Enqueue,
		Metrics:      container.Metrics,
		RequeueDelay: cfg.Limiter.RequeueDelay,
	}
	container.ProjectProcessor = rollup.NewProjectProcessor(deps, log)
	container.PortfolioRollup = rollup.NewRollupProcessor(rollup.PortfolioStrategy{}, deps, log)
	container.ProgramRollup = rollup.NewRollupProcessor(rollup.ProgramStrategy{Budgets: container.BudgetRepo}, deps, log)
	container.Sweep = scheduler.NewSweepProcessor(
		container.Flags,
		container.ProjectRepo,
		container.SnapshotRepo,
		container.Enqueue,
		scheduler.SweepConfig{
			PageSize:     cfg.Scheduler.PageSize,
			LookbackDays: cfg.Scheduler.LookbackDays,
		},
		log,
	)
	return nil
}
