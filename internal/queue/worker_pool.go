package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/metrics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes one claimed job.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// PoolConfig configures a WorkerPool.
type PoolConfig struct {
	Queue        domain.QueueName
	Concurrency  int
	PollInterval time.Duration
}

// WorkerPool claims jobs from one queue and dispatches them by kind.
//
// Handler results map to store transitions: nil completes the job, a
// RequeueError reschedules it without counting an attempt, an error wrapping
// domain.ErrInvalidPayload fails it without retry, and anything else counts
// an attempt and retries per the job's policy.
type WorkerPool struct {
	store    Store
	cfg      PoolConfig
	handlers map[domain.JobKind]Handler
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	log      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewWorkerPool creates a pool for cfg.Queue.
func NewWorkerPool(store Store, cfg PoolConfig, m *metrics.Metrics, log zerolog.Logger) *WorkerPool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &WorkerPool{
		store:    store,
		cfg:      cfg,
		handlers: make(map[domain.JobKind]Handler),
		metrics:  m,
		tracer:   otel.Tracer("github.com/aristath/rollup/internal/queue"),
		log:      log.With().Str("component", "worker_pool").Str("queue", string(cfg.Queue)).Logger(),
	}
}

// RegisterHandler routes jobs of kind to h.
func (wp *WorkerPool) RegisterHandler(kind domain.JobKind, h Handler) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.handlers[kind] = h
}

// Start recovers interrupted jobs and launches the workers.
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return nil
	}

	if _, err := wp.store.Recover(ctx, wp.cfg.Queue); err != nil {
		return fmt.Errorf("failed to recover queue %s: %w", wp.cfg.Queue, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	wp.cancel = cancel
	wp.started = true

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	wp.log.Info().Int("workers", wp.cfg.Concurrency).Msg("Worker pool started")
	return nil
}

// Stop cancels the workers and waits for in-flight jobs.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return
	}
	wp.started = false
	cancel := wp.cancel
	wp.mu.Unlock()

	cancel()
	wp.wg.Wait()
	wp.log.Info().Msg("Worker pool stopped")
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for ctx.Err() == nil {
				processed, err := wp.ProcessNext(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						wp.log.Warn().Err(err).Int("worker", id).Msg("Failed to claim job")
					}
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// ProcessNext claims and runs one due job. It reports false when nothing was due.
func (wp *WorkerPool) ProcessNext(ctx context.Context) (bool, error) {
	job, err := wp.store.Claim(ctx, wp.cfg.Queue)
	if errors.Is(err, ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	wp.run(ctx, job)
	return true, nil
}

// Drain runs due jobs until none remain and returns how many ran.
func (wp *WorkerPool) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		processed, err := wp.ProcessNext(ctx)
		if err != nil {
			return n, err
		}
		if !processed {
			return n, nil
		}
		n++
	}
}

func (wp *WorkerPool) run(ctx context.Context, job *Job) {
	ctx, span := wp.tracer.Start(ctx, "queue.job "+string(job.Kind), trace.WithAttributes(
		attribute.String("queue", string(job.Queue)),
		attribute.String("job.id", job.ID),
		attribute.String("job.key", job.Key),
		attribute.Int("job.attempts", job.Attempts),
	))
	defer span.End()

	log := wp.log.With().
		Str("job_id", job.ID).
		Str("job_key", job.Key).
		Str("kind", string(job.Kind)).
		Str("correlation_id", job.Payload.CorrelationID).
		Logger()

	wp.mu.Lock()
	handler := wp.handlers[job.Kind]
	wp.mu.Unlock()

	start := time.Now()
	var err error
	if handler == nil {
		err = fmt.Errorf("no handler for job kind %q: %w", job.Kind, domain.ErrInvalidPayload)
	} else {
		err = safeHandle(ctx, handler, job)
	}
	duration := time.Since(start)

	outcome := wp.settle(ctx, job, err, log)
	if err != nil && outcome != "throttled" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("job.outcome", outcome))
	wp.metrics.JobProcessed(string(job.Queue), string(job.Kind), outcome, duration)
}

// settle applies the store transition for a handler result.
func (wp *WorkerPool) settle(ctx context.Context, job *Job, err error, log zerolog.Logger) string {
	// Transitions must land even when the pool is stopping.
	ctx = context.WithoutCancel(ctx)

	if err == nil {
		if cerr := wp.store.Complete(ctx, job); cerr != nil {
			log.Error().Err(cerr).Msg("Failed to mark job completed")
		}
		return "completed"
	}

	if delay, ok := AsRequeue(err); ok {
		if rerr := wp.store.Reschedule(ctx, job, delay); rerr != nil {
			log.Error().Err(rerr).Msg("Failed to reschedule job")
		}
		log.Debug().Dur("delay", delay).Msg("Job rescheduled")
		return "throttled"
	}

	if errors.Is(err, domain.ErrInvalidPayload) {
		if _, ferr := wp.store.Fail(ctx, job, err, false); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to mark job failed")
		}
		log.Error().Err(err).Msg("Job rejected")
		return "invalid"
	}

	retried, ferr := wp.store.Fail(ctx, job, err, true)
	if ferr != nil {
		log.Error().Err(ferr).Msg("Failed to mark job failed")
	}
	if retried {
		log.Warn().Err(err).Int("attempts", job.Attempts).Msg("Job failed, will retry")
		return "retried"
	}
	log.Error().Err(err).Int("attempts", job.Attempts).Msg("Job failed permanently")
	return "failed"
}

func safeHandle(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}
