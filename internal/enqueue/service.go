// Package enqueue turns recompute requests into keyed, debounced broker jobs.
package enqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/metrics"
	"github.com/aristath/rollup/internal/queue"
	"github.com/rs/zerolog"
)

// Option adjusts a single enqueue call.
type Option func(*options)

type options struct {
	extraDelay time.Duration
}

// WithExtraDelay adds d on top of the kind's debounce delay.
func WithExtraDelay(d time.Duration) Option {
	return func(o *options) {
		o.extraDelay = d
	}
}

// JobStatus is the answer to a status poll.
type JobStatus struct {
	Pending bool   `json:"pending"`
	JobID   string `json:"job_id,omitempty"`
}

// Service builds job keys and submits jobs to the store.
//
// A store that cannot be reached never surfaces as an error: the call
// returns an empty job id and the periodic sweep picks the work up later.
type Service struct {
	store    queue.Store
	policies map[domain.JobKind]KindPolicy
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// NewService creates an enqueue service. Kinds missing from policies use the
// defaults.
func NewService(store queue.Store, policies map[domain.JobKind]KindPolicy, m *metrics.Metrics, log zerolog.Logger) *Service {
	merged := DefaultPolicies()
	for kind, p := range policies {
		merged[kind] = p
	}
	return &Service{
		store:    store,
		policies: merged,
		metrics:  m,
		log:      log.With().Str("component", "enqueue").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for default as-of dates.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Enqueue submits a job of kind. It returns the id of the job holding the
// key, which is the existing job when one is already pending. A malformed
// payload returns an error wrapping domain.ErrInvalidPayload.
func (s *Service) Enqueue(ctx context.Context, kind domain.JobKind, p domain.JobPayload, opts ...Option) (string, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if p.AsOfDate == "" {
		p.AsOfDate = domain.FormatDate(s.now())
	}
	if kind == domain.KindProjectRecompute {
		p.MetricCodes = NormalizeCodes(p.MetricCodes)
	} else {
		p.MetricCodes = nil
	}
	if err := p.Validate(kind); err != nil {
		return "", err
	}

	policy := s.policies[kind]
	spec := queue.JobSpec{
		Key:     BuildJobKey(kind, p),
		Kind:    kind,
		Payload: p,
		Delay:   policy.Delay + o.extraDelay,
		Policy:  policy.Policy,
	}

	job, created, err := s.store.Add(ctx, kind.Queue(), spec)
	if errors.Is(err, domain.ErrBrokerUnavailable) {
		s.metrics.Enqueued(string(kind), "unavailable")
		s.log.Warn().
			Str("kind", string(kind)).
			Str("job_key", spec.Key).
			Str("correlation_id", p.CorrelationID).
			Msg("Job store unavailable, recompute skipped until next sweep")
		return "", nil
	}
	if err != nil {
		s.metrics.Enqueued(string(kind), "error")
		s.log.Error().Err(err).
			Str("kind", string(kind)).
			Str("job_key", spec.Key).
			Str("correlation_id", p.CorrelationID).
			Msg("Failed to enqueue job")
		return "", fmt.Errorf("failed to enqueue %s: %w", kind, err)
	}

	result := "created"
	if !created {
		result = "collapsed"
	}
	s.metrics.Enqueued(string(kind), result)
	s.log.Debug().
		Str("kind", string(kind)).
		Str("job_key", spec.Key).
		Str("job_id", job.ID).
		Bool("created", created).
		Str("reason", p.Reason).
		Str("correlation_id", p.CorrelationID).
		Msg("Job enqueued")
	return job.ID, nil
}

// EnqueueProjectRecompute enqueues a recompute of the given metric codes.
func (s *Service) EnqueueProjectRecompute(ctx context.Context, p domain.JobPayload, opts ...Option) (string, error) {
	return s.Enqueue(ctx, domain.KindProjectRecompute, p, opts...)
}

// EnqueueProjectRecomputeAll enqueues a recompute of every metric of a project.
func (s *Service) EnqueueProjectRecomputeAll(ctx context.Context, p domain.JobPayload, opts ...Option) (string, error) {
	return s.Enqueue(ctx, domain.KindProjectRecomputeAll, p, opts...)
}

// EnqueuePortfolioRollup enqueues a portfolio rollup.
func (s *Service) EnqueuePortfolioRollup(ctx context.Context, p domain.JobPayload, opts ...Option) (string, error) {
	return s.Enqueue(ctx, domain.KindPortfolioRollup, p, opts...)
}

// EnqueueProgramRollup enqueues a program rollup.
func (s *Service) EnqueueProgramRollup(ctx context.Context, p domain.JobPayload, opts ...Option) (string, error) {
	return s.Enqueue(ctx, domain.KindProgramRollup, p, opts...)
}

// GetJobStatus reports whether any recompute of a project is waiting,
// delayed or running for the date. It never fails on an unreachable store.
func (s *Service) GetJobStatus(ctx context.Context, tenantID, projectID, asOfDate string) (JobStatus, error) {
	if asOfDate == "" {
		asOfDate = domain.FormatDate(s.now())
	}
	p := domain.JobPayload{TenantID: tenantID, ProjectID: projectID, AsOfDate: asOfDate}

	for _, kind := range []domain.JobKind{domain.KindProjectRecomputeAll, domain.KindProjectRecompute} {
		job, err := s.store.FindLive(ctx, kind.Queue(), scopeKeyPrefix(kind, p))
		if err != nil {
			s.log.Warn().Err(err).
				Str("tenant_id", tenantID).
				Str("project_id", projectID).
				Msg("Job store unavailable for status lookup")
			return JobStatus{}, nil
		}
		if job != nil {
			return JobStatus{Pending: true, JobID: job.ID}, nil
		}
	}
	return JobStatus{}, nil
}
