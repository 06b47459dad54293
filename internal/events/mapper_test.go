package events

import (
	"context"
	"testing"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, kind domain.JobKind, p domain.JobPayload, opts ...enqueue.Option) (string, error) {
	args := m.Called(ctx, kind, p)
	return args.String(0), args.Error(1)
}

type staticFlags map[string]bool

func (f staticFlags) IsEnabled(name string) bool { return f[name] }

var enabled = staticFlags{domain.FlagRecompute: true}

func TestEventType_TableIsComplete(t *testing.T) {
	for _, et := range AllEventTypes {
		_, registered := et.AffectedCodes()
		_, membership := et.Membership()
		assert.True(t, registered || membership, "event %s maps to nothing", et)

		parsed, ok := ParseEventType(string(et))
		assert.True(t, ok)
		assert.Equal(t, et, parsed)
	}

	_, ok := ParseEventType("comment.created")
	assert.False(t, ok)
}

func TestMapper_PartialRecompute(t *testing.T) {
	enq := new(mockEnqueuer)
	mapper := NewMapper(enq, enabled, zerolog.Nop())
	ctx := context.Background()

	enq.On("Enqueue", ctx, domain.KindProjectRecompute, mock.MatchedBy(func(p domain.JobPayload) bool {
		return p.ProjectID == "p1" &&
			assert.ObjectsAreEqual(taskCodes, p.MetricCodes) &&
			p.Reason == "EVENT:task.completed" &&
			p.CorrelationID == "corr-1"
	})).Return("job-1", nil).Once()

	out, err := mapper.Emit(ctx, string(TaskCompleted), Payload{TenantID: "t1", ProjectID: "p1"}, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", out.ProjectJobID)
	enq.AssertExpectations(t)
}

func TestMapper_EmptyCodesMeansFullRecompute(t *testing.T) {
	enq := new(mockEnqueuer)
	mapper := NewMapper(enq, enabled, zerolog.Nop())
	ctx := context.Background()

	enq.On("Enqueue", ctx, domain.KindProjectRecomputeAll, mock.MatchedBy(func(p domain.JobPayload) bool {
		return p.ProjectID == "p1" && len(p.MetricCodes) == 0
	})).Return("job-all", nil).Once()

	out, err := mapper.Emit(ctx, string(ProjectUpdated), Payload{TenantID: "t1", ProjectID: "p1"}, "")
	require.NoError(t, err)
	assert.Equal(t, "job-all", out.ProjectJobID)
	enq.AssertExpectations(t)
}

func TestMapper_UnregisteredEvent(t *testing.T) {
	enq := new(mockEnqueuer)
	mapper := NewMapper(enq, enabled, zerolog.Nop())

	out, err := mapper.Emit(context.Background(), "comment.created", Payload{TenantID: "t1", ProjectID: "p1"}, "")
	require.NoError(t, err)
	assert.Equal(t, Emitted{}, out)
	enq.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestMapper_FlagOff(t *testing.T) {
	enq := new(mockEnqueuer)
	mapper := NewMapper(enq, staticFlags{}, zerolog.Nop())

	out, err := mapper.Emit(context.Background(), string(ProjectPortfolioChanged), Payload{TenantID: "t1", ProjectID: "p1", PortfolioID: "pf1"}, "")
	require.NoError(t, err)
	assert.Equal(t, Emitted{}, out)
	enq.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestMapper_MembershipChange(t *testing.T) {
	ctx := context.Background()

	t.Run("portfolio rolls up new and previous", func(t *testing.T) {
		enq := new(mockEnqueuer)
		mapper := NewMapper(enq, enabled, zerolog.Nop())

		enq.On("Enqueue", ctx, domain.KindPortfolioRollup, mock.MatchedBy(func(p domain.JobPayload) bool {
			return p.PortfolioID == "pf-new"
		})).Return("r-new", nil).Once()
		enq.On("Enqueue", ctx, domain.KindPortfolioRollup, mock.MatchedBy(func(p domain.JobPayload) bool {
			return p.PortfolioID == "pf-old"
		})).Return("r-old", nil).Once()

		out, err := mapper.Emit(ctx, string(ProjectPortfolioChanged), Payload{
			TenantID: "t1", ProjectID: "p1", PortfolioID: "pf-new", PreviousPortfolioID: "pf-old",
		}, "")
		require.NoError(t, err)
		assert.Empty(t, out.ProjectJobID)
		assert.Equal(t, []string{"r-new", "r-old"}, out.PortfolioJobIDs)
		enq.AssertExpectations(t)
	})

	t.Run("program without id enqueues nothing", func(t *testing.T) {
		enq := new(mockEnqueuer)
		mapper := NewMapper(enq, enabled, zerolog.Nop())

		out, err := mapper.Emit(ctx, string(ProjectProgramChanged), Payload{TenantID: "t1", ProjectID: "p1"}, "")
		require.NoError(t, err)
		assert.Equal(t, Emitted{}, out)
		enq.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("program", func(t *testing.T) {
		enq := new(mockEnqueuer)
		mapper := NewMapper(enq, enabled, zerolog.Nop())

		enq.On("Enqueue", ctx, domain.KindProgramRollup, mock.MatchedBy(func(p domain.JobPayload) bool {
			return p.ProgramID == "pg1"
		})).Return("r-pg", nil).Once()

		out, err := mapper.Emit(ctx, string(ProjectProgramChanged), Payload{TenantID: "t1", ProjectID: "p1", ProgramID: "pg1"}, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"r-pg"}, out.ProgramJobIDs)
		enq.AssertExpectations(t)
	})
}

func TestMapper_InvalidPayloadPropagates(t *testing.T) {
	enq := new(mockEnqueuer)
	mapper := NewMapper(enq, enabled, zerolog.Nop())
	ctx := context.Background()

	enq.On("Enqueue", ctx, domain.KindProjectRecompute, mock.Anything).Return("", domain.ErrInvalidPayload).Once()

	_, err := mapper.Emit(ctx, string(RiskCreated), Payload{TenantID: "t1"}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
