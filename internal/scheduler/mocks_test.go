package scheduler

import (
	"context"
	"sync"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/stretchr/testify/mock"
)

type staticFlags map[string]bool

func (f staticFlags) IsEnabled(name string) bool { return f[name] }

// pagedProjects serves ListProjects from a fixed slice.
type pagedProjects struct {
	mock.Mock
	all []domain.ProjectRef
}

func (p *pagedProjects) GetProject(context.Context, string, string) (*domain.ProjectRef, error) {
	return nil, nil
}

func (p *pagedProjects) FindProjectsByScope(context.Context, domain.ProjectScopeQuery) ([]domain.ProjectRef, error) {
	return nil, nil
}

func (p *pagedProjects) ListProjects(ctx context.Context, tenantID string, offset, limit int) ([]domain.ProjectRef, error) {
	p.Called(tenantID, offset, limit)
	if offset >= len(p.all) {
		return nil, nil
	}
	end := min(offset+limit, len(p.all))
	return p.all[offset:end], nil
}

func (p *pagedProjects) ListTenants(ctx context.Context) ([]string, error) {
	args := p.Called()
	t, _ := args.Get(0).([]string)
	return t, args.Error(1)
}

type mockSnapshots struct{ mock.Mock }

func (m *mockSnapshots) GetSnapshot(ctx context.Context, key domain.SnapshotKey) (*domain.Snapshot, error) {
	args := m.Called(ctx, key)
	s, _ := args.Get(0).(*domain.Snapshot)
	return s, args.Error(1)
}

func (m *mockSnapshots) UpsertSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	return m.Called(ctx, snap).Error(0)
}

func (m *mockSnapshots) ComputedScopes(ctx context.Context, tenantID string, scopeType domain.ScopeType, scopeIDs, dates []string) (map[string]bool, error) {
	args := m.Called(ctx, tenantID, scopeType, scopeIDs, dates)
	found, _ := args.Get(0).(map[string]bool)
	return found, args.Error(1)
}

type enqueueCall struct {
	kind    domain.JobKind
	payload domain.JobPayload
	opts    int
}

// recordingEnqueuer records every call and hands out sequential ids.
type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
	empty bool
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, kind domain.JobKind, p domain.JobPayload, opts ...enqueue.Option) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.calls = append(r.calls, enqueueCall{kind: kind, payload: p, opts: len(opts)})
	if r.empty {
		return "", nil
	}
	return "job-" + p.TenantID + "-" + p.ProjectID, nil
}
