package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/rollup/internal/config"
	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/queue"
)

// RegisterWorkers creates one worker pool per queue and binds every job kind
// to its processor. Pools are not started.
func RegisterWorkers(container *Container, cfg *config.Config, log zerolog.Logger) {
	handlers := map[domain.JobKind]queue.Handler{
		domain.KindProjectRecompute:    queue.HandlerFunc(container.ProjectProcessor.Handle),
		domain.KindProjectRecomputeAll: queue.HandlerFunc(container.ProjectProcessor.Handle),
		domain.KindPortfolioRollup:     queue.HandlerFunc(container.PortfolioRollup.Handle),
		domain.KindProgramRollup:       queue.HandlerFunc(container.ProgramRollup.Handle),
		domain.KindNightlyRefresh:      queue.HandlerFunc(container.Sweep.Handle),
		domain.KindStaleRefresh:        queue.HandlerFunc(container.Sweep.Handle),
	}

	container.Pools = make(map[domain.QueueName]*queue.WorkerPool, len(domain.AllQueues))
	for _, name := range domain.AllQueues {
		container.Pools[name] = queue.NewWorkerPool(container.Queue, queue.PoolConfig{
			Queue:        name,
			Concurrency:  cfg.Workers.Concurrency(name),
			PollInterval: cfg.Workers.PollInterval,
		}, container.Metrics, log)
	}
	for kind, h := range handlers {
		container.Pools[kind.Queue()].RegisterHandler(kind, h)
	}
}
