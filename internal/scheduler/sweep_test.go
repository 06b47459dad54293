package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/queue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var sweepFlags = staticFlags{domain.FlagNightlyRefresh: true, domain.FlagStaleRefresh: true}

func makeProjects(n int) []domain.ProjectRef {
	out := make([]domain.ProjectRef, n)
	for i := range out {
		out[i] = domain.ProjectRef{ID: fmt.Sprintf("p%03d", i), TenantID: "t1"}
	}
	return out
}

func newTestSweep(flags staticFlags, projects *pagedProjects, snaps *mockSnapshots, enq *recordingEnqueuer, cfg SweepConfig) *SweepProcessor {
	sp := NewSweepProcessor(flags, projects, snaps, enq, cfg, zerolog.Nop())
	sp.SetClock(func() time.Time { return time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC) })
	return sp
}

func TestSweep_NightlyPagesThroughEveryProject(t *testing.T) {
	projects := &pagedProjects{all: makeProjects(5)}
	projects.On("ListProjects", "t1", mock.Anything, 2).Return()
	enq := &recordingEnqueuer{}

	res, err := newTestSweep(sweepFlags, projects, new(mockSnapshots), enq, SweepConfig{PageSize: 2}).
		Nightly(context.Background(), domain.JobPayload{TenantID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, 5, res.ComputedCount)
	require.Len(t, enq.calls, 5)
	for _, c := range enq.calls {
		assert.Equal(t, domain.KindProjectRecomputeAll, c.kind)
		assert.Equal(t, "2024-03-10", c.payload.AsOfDate)
		assert.Equal(t, domain.ReasonNightlyRefresh, c.payload.Reason)
		assert.Equal(t, 1, c.opts, "nightly jobs carry a spread delay")
	}
	// Pages at offsets 0, 2, 4; the short last page ends the walk.
	projects.AssertNumberOfCalls(t, "ListProjects", 3)
}

func TestSweep_NightlyDisabled(t *testing.T) {
	projects := &pagedProjects{}
	enq := &recordingEnqueuer{}

	res, err := newTestSweep(staticFlags{}, projects, new(mockSnapshots), enq, SweepConfig{}).
		Nightly(context.Background(), domain.JobPayload{TenantID: "t1"})
	require.NoError(t, err)
	assert.Zero(t, res.ComputedCount)
	assert.Empty(t, enq.calls)
	projects.AssertNotCalled(t, "ListProjects", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweep_StaleEnqueuesOnlyMissing(t *testing.T) {
	projects := &pagedProjects{all: makeProjects(3)}
	projects.On("ListProjects", "t1", 0, 200).Return()
	snaps := new(mockSnapshots)
	snaps.On("ComputedScopes", mock.Anything, "t1", domain.ScopeProject,
		[]string{"p000", "p001", "p002"}, []string{"2024-03-10"}).
		Return(map[string]bool{"p001": true}, nil)
	enq := &recordingEnqueuer{}

	res, err := newTestSweep(sweepFlags, projects, snaps, enq, SweepConfig{}).
		Stale(context.Background(), domain.JobPayload{TenantID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.ComputedCount)
	assert.Equal(t, 1, res.SkippedCount)
	require.Len(t, enq.calls, 2)
	assert.Equal(t, "p000", enq.calls[0].payload.ProjectID)
	assert.Equal(t, "p002", enq.calls[1].payload.ProjectID)
	assert.Equal(t, domain.ReasonStaleRefresh, enq.calls[0].payload.Reason)
	assert.Zero(t, enq.calls[0].opts)
}

func TestSweep_StaleUsesLookbackWindow(t *testing.T) {
	projects := &pagedProjects{all: makeProjects(1)}
	projects.On("ListProjects", "t1", 0, 200).Return()
	snaps := new(mockSnapshots)
	snaps.On("ComputedScopes", mock.Anything, "t1", domain.ScopeProject, []string{"p000"},
		[]string{"2024-03-01", "2024-02-29", "2024-02-28"}).
		Return(map[string]bool{"p000": true}, nil)
	enq := &recordingEnqueuer{}

	res, err := newTestSweep(sweepFlags, projects, snaps, enq, SweepConfig{LookbackDays: 3}).
		Stale(context.Background(), domain.JobPayload{TenantID: "t1", AsOfDate: "2024-03-01"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Empty(t, enq.calls)
}

func TestSweep_EnqueueErrorFailsRun(t *testing.T) {
	projects := &pagedProjects{all: makeProjects(2)}
	projects.On("ListProjects", "t1", 0, 200).Return()
	enq := &recordingEnqueuer{err: assert.AnError}

	_, err := newTestSweep(sweepFlags, projects, new(mockSnapshots), enq, SweepConfig{}).
		Nightly(context.Background(), domain.JobPayload{TenantID: "t1"})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSweep_UnavailableBrokerCountsSkipped(t *testing.T) {
	projects := &pagedProjects{all: makeProjects(2)}
	projects.On("ListProjects", "t1", 0, 200).Return()
	enq := &recordingEnqueuer{empty: true}

	res, err := newTestSweep(sweepFlags, projects, new(mockSnapshots), enq, SweepConfig{}).
		Nightly(context.Background(), domain.JobPayload{TenantID: "t1"})
	require.NoError(t, err)
	assert.Zero(t, res.ComputedCount)
	assert.Equal(t, 2, res.SkippedCount)
}

func TestSweep_HandleDispatchesByKind(t *testing.T) {
	projects := &pagedProjects{}
	projects.On("ListProjects", "t1", 0, 200).Return()
	sp := newTestSweep(sweepFlags, projects, new(mockSnapshots), &recordingEnqueuer{}, SweepConfig{})

	assert.NoError(t, sp.Handle(context.Background(), &queue.Job{
		Kind: domain.KindNightlyRefresh, Payload: domain.JobPayload{TenantID: "t1"},
	}))
	assert.NoError(t, sp.Handle(context.Background(), &queue.Job{
		Kind: domain.KindStaleRefresh, Payload: domain.JobPayload{TenantID: "t1"},
	}))

	err := sp.Handle(context.Background(), &queue.Job{
		Kind: domain.KindPortfolioRollup, Payload: domain.JobPayload{TenantID: "t1"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestSweep_MissingTenantIsInvalid(t *testing.T) {
	sp := newTestSweep(sweepFlags, &pagedProjects{}, new(mockSnapshots), &recordingEnqueuer{}, SweepConfig{})
	_, err := sp.Stale(context.Background(), domain.JobPayload{})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestLookbackDates(t *testing.T) {
	dates, err := LookbackDates("2024-01-02", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02", "2024-01-01", "2023-12-31"}, dates)

	dates, err = LookbackDates("2024-01-02", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02"}, dates)

	_, err = LookbackDates("yesterday", 1)
	assert.Error(t, err)
}
