package rollup

import (
	"context"
	"sync"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/stretchr/testify/mock"
)

type staticFlags map[string]bool

func (f staticFlags) IsEnabled(name string) bool { return f[name] }

type fixedLimiter struct{ allow bool }

func (l fixedLimiter) TryConsume(string) bool { return l.allow }

type mockProjects struct{ mock.Mock }

func (m *mockProjects) GetProject(ctx context.Context, tenantID, projectID string) (*domain.ProjectRef, error) {
	args := m.Called(ctx, tenantID, projectID)
	p, _ := args.Get(0).(*domain.ProjectRef)
	return p, args.Error(1)
}

func (m *mockProjects) FindProjectsByScope(ctx context.Context, q domain.ProjectScopeQuery) ([]domain.ProjectRef, error) {
	args := m.Called(ctx, q)
	p, _ := args.Get(0).([]domain.ProjectRef)
	return p, args.Error(1)
}

func (m *mockProjects) ListProjects(ctx context.Context, tenantID string, offset, limit int) ([]domain.ProjectRef, error) {
	args := m.Called(ctx, tenantID, offset, limit)
	p, _ := args.Get(0).([]domain.ProjectRef)
	return p, args.Error(1)
}

func (m *mockProjects) ListTenants(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	t, _ := args.Get(0).([]string)
	return t, args.Error(1)
}

type mockCalculator struct{ mock.Mock }

func (m *mockCalculator) ComputeForProject(ctx context.Context, tenantID, projectID, asOfDate string, codes []string) (*domain.CalculationResult, error) {
	args := m.Called(ctx, tenantID, projectID, asOfDate, codes)
	r, _ := args.Get(0).(*domain.CalculationResult)
	return r, args.Error(1)
}

type mockValues struct{ mock.Mock }

func (m *mockValues) FindMetricValues(ctx context.Context, q domain.MetricValueQuery) ([]domain.MetricValue, error) {
	args := m.Called(ctx, q)
	v, _ := args.Get(0).([]domain.MetricValue)
	return v, args.Error(1)
}

type mockBudgets struct{ mock.Mock }

func (m *mockBudgets) FindBudgets(ctx context.Context, tenantID string, projectIDs []string) ([]domain.Budget, error) {
	args := m.Called(ctx, tenantID, projectIDs)
	b, _ := args.Get(0).([]domain.Budget)
	return b, args.Error(1)
}

type mockEnqueuer struct{ mock.Mock }

func (m *mockEnqueuer) Enqueue(ctx context.Context, kind domain.JobKind, p domain.JobPayload, opts ...enqueue.Option) (string, error) {
	args := m.Called(ctx, kind, p)
	return args.String(0), args.Error(1)
}

// memSnapshots is an in-memory snapshot store that counts writes.
type memSnapshots struct {
	mu     sync.Mutex
	rows   map[domain.SnapshotKey]domain.Snapshot
	writes int
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{rows: make(map[domain.SnapshotKey]domain.Snapshot)}
}

func (s *memSnapshots) GetSnapshot(_ context.Context, key domain.SnapshotKey) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *memSnapshots) UpsertSnapshot(_ context.Context, snap *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[snap.SnapshotKey] = *snap
	s.writes++
	return nil
}

func (s *memSnapshots) ComputedScopes(_ context.Context, tenantID string, scopeType domain.ScopeType, scopeIDs, dates []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := make(map[string]bool)
	for key := range s.rows {
		if key.TenantID != tenantID || key.ScopeType != scopeType {
			continue
		}
		for _, id := range scopeIDs {
			for _, d := range dates {
				if key.ScopeID == id && key.AsOfDate == d {
					found[id] = true
				}
			}
		}
	}
	return found, nil
}

func (s *memSnapshots) value(scopeType domain.ScopeType, scopeID, date, code string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, row := range s.rows {
		if key.ScopeType == scopeType && key.ScopeID == scopeID && key.AsOfDate == date && key.MetricCode == code {
			return row.Value, true
		}
	}
	return 0, false
}
