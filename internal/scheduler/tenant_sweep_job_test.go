package scheduler

import (
	"context"
	"sort"
	"testing"

	"github.com/aristath/rollup/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantSweepJob_EnqueuesPerTenant(t *testing.T) {
	tenants := &pagedProjects{}
	tenants.On("ListTenants").Return([]string{"t1", "t2", "t3"}, nil)
	enq := &recordingEnqueuer{}

	job := NewTenantSweepJob(TenantSweepJobConfig{
		Kind:     domain.KindStaleRefresh,
		Tenants:  tenants,
		Enqueuer: enq,
		Fanout:   2,
		Log:      zerolog.Nop(),
	})
	assert.Equal(t, "stale_refresh", job.Name())
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, enq.calls, 3)
	var got []string
	for _, c := range enq.calls {
		assert.Equal(t, domain.KindStaleRefresh, c.kind)
		assert.Equal(t, domain.ReasonStaleRefresh, c.payload.Reason)
		assert.NotEmpty(t, c.payload.AsOfDate)
		assert.Equal(t, enq.calls[0].payload.CorrelationID, c.payload.CorrelationID)
		got = append(got, c.payload.TenantID)
	}
	sort.Strings(got)
	assert.Equal(t, []string{"t1", "t2", "t3"}, got)
}

func TestTenantSweepJob_ListError(t *testing.T) {
	tenants := &pagedProjects{}
	tenants.On("ListTenants").Return(nil, assert.AnError)

	job := NewTenantSweepJob(TenantSweepJobConfig{
		Kind:     domain.KindNightlyRefresh,
		Tenants:  tenants,
		Enqueuer: &recordingEnqueuer{},
		Log:      zerolog.Nop(),
	})
	assert.ErrorIs(t, job.Run(context.Background()), assert.AnError)
}

func TestTenantSweepJob_EnqueueErrorReturned(t *testing.T) {
	tenants := &pagedProjects{}
	tenants.On("ListTenants").Return([]string{"t1"}, nil)

	job := NewTenantSweepJob(TenantSweepJobConfig{
		Kind:     domain.KindNightlyRefresh,
		Tenants:  tenants,
		Enqueuer: &recordingEnqueuer{err: assert.AnError},
		Log:      zerolog.Nop(),
	})
	assert.ErrorIs(t, job.Run(context.Background()), assert.AnError)
}
