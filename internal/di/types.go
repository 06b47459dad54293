// Package di wires the rollup service's dependencies.
package di

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/rollup/internal/database"
	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/aristath/rollup/internal/events"
	"github.com/aristath/rollup/internal/flags"
	"github.com/aristath/rollup/internal/metrics"
	"github.com/aristath/rollup/internal/queue"
	"github.com/aristath/rollup/internal/ratelimit"
	"github.com/aristath/rollup/internal/rollup"
	"github.com/aristath/rollup/internal/scheduler"
)

// Container holds every long-lived dependency of the service. It is built by
// Wire and torn down by Close.
type Container struct {
	// Storage
	DB    *database.DB
	Queue *queue.BadgerStore

	// Repositories
	ProjectRepo     *database.ProjectRepository
	MetricValueRepo *database.MetricValueRepository
	BudgetRepo      *database.BudgetRepository
	SnapshotRepo    *database.SnapshotRepository

	// Services
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Flags      *flags.Store
	Limiter    *ratelimit.RateLimiter
	Calculator *database.Calculator
	Enqueue    *enqueue.Service
	Mapper     *events.Mapper

	// Processors
	ProjectProcessor *rollup.ProjectProcessor
	PortfolioRollup  *rollup.RollupProcessor
	ProgramRollup    *rollup.RollupProcessor
	Sweep            *scheduler.SweepProcessor

	// Background work
	Pools     map[domain.QueueName]*queue.WorkerPool
	Scheduler *scheduler.Scheduler
}

// Close releases the job store and the database. Worker pools and the
// scheduler must be stopped first.
func (c *Container) Close() error {
	var first error
	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			first = err
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
