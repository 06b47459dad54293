package events

import (
	"context"
	"fmt"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/rs/zerolog"
)

// Enqueuer submits jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind domain.JobKind, p domain.JobPayload, opts ...enqueue.Option) (string, error)
}

// Mapper turns events into recompute and rollup jobs.
type Mapper struct {
	enqueuer Enqueuer
	flags    domain.FeatureFlags
	log      zerolog.Logger
}

// NewMapper creates a mapper.
func NewMapper(enqueuer Enqueuer, flags domain.FeatureFlags, log zerolog.Logger) *Mapper {
	return &Mapper{
		enqueuer: enqueuer,
		flags:    flags,
		log:      log.With().Str("component", "event_mapper").Logger(),
	}
}

// Emit enqueues the jobs an event implies. Nothing happens while the
// recompute flag is off or when the event name is unknown.
func (m *Mapper) Emit(ctx context.Context, name string, p Payload, correlationID string) (Emitted, error) {
	var out Emitted
	if !m.flags.IsEnabled(domain.FlagRecompute) {
		m.log.Debug().Str("event", name).Msg("Recompute disabled, event ignored")
		return out, nil
	}

	et, ok := ParseEventType(name)
	if !ok {
		m.log.Debug().Str("event", name).Msg("Unregistered event, nothing to recompute")
		return out, nil
	}

	base := domain.JobPayload{
		TenantID:      p.TenantID,
		AsOfDate:      p.AsOfDate,
		Reason:        domain.ReasonEvent + ":" + name,
		CorrelationID: correlationID,
	}

	if codes, registered := et.AffectedCodes(); registered {
		job := base
		job.ProjectID = p.ProjectID
		kind := domain.KindProjectRecomputeAll
		if len(codes) > 0 {
			kind = domain.KindProjectRecompute
			job.MetricCodes = codes
		}
		id, err := m.enqueuer.Enqueue(ctx, kind, job)
		if err != nil {
			return out, fmt.Errorf("event %s: %w", name, err)
		}
		out.ProjectJobID = id
	}

	if scope, ok := et.Membership(); ok {
		switch scope {
		case domain.ScopePortfolio:
			ids, err := m.rollups(ctx, domain.KindPortfolioRollup, base, p.PortfolioID, p.PreviousPortfolioID)
			if err != nil {
				return out, fmt.Errorf("event %s: %w", name, err)
			}
			out.PortfolioJobIDs = ids
		case domain.ScopeProgram:
			ids, err := m.rollups(ctx, domain.KindProgramRollup, base, p.ProgramID, p.PreviousProgramID)
			if err != nil {
				return out, fmt.Errorf("event %s: %w", name, err)
			}
			out.ProgramJobIDs = ids
		}
	}

	m.log.Debug().
		Str("event", name).
		Str("tenant_id", p.TenantID).
		Str("project_id", p.ProjectID).
		Str("correlation_id", correlationID).
		Interface("emitted", out).
		Msg("Event mapped")
	return out, nil
}

// rollups enqueues one rollup per distinct non-empty aggregate id.
func (m *Mapper) rollups(ctx context.Context, kind domain.JobKind, base domain.JobPayload, ids ...string) ([]string, error) {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		job := base
		if kind == domain.KindPortfolioRollup {
			job.PortfolioID = id
		} else {
			job.ProgramID = id
		}
		jobID, err := m.enqueuer.Enqueue(ctx, kind, job)
		if err != nil {
			return out, err
		}
		if jobID != "" {
			out = append(out, jobID)
		}
	}
	return out, nil
}
