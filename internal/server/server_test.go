package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rollup/internal/database"
	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/aristath/rollup/internal/events"
	"github.com/aristath/rollup/internal/flags"
	"github.com/aristath/rollup/internal/metrics"
	"github.com/aristath/rollup/internal/queue"
)

var testNow = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	server    *Server
	store     *queue.BadgerStore
	snapshots *database.SnapshotRepository
	flags     *flags.Store
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	store, err := queue.OpenBadgerStore("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.SetClock(func() time.Time { return testNow })

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	require.NoError(t, database.ApplySchema(conn))
	t.Cleanup(func() { conn.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := enqueue.NewService(store, nil, m, zerolog.Nop())
	svc.SetClock(func() time.Time { return testNow })

	fs := flags.NewStatic(map[string]bool{
		domain.FlagRecompute:       true,
		domain.FlagPortfolioRollup: true,
		domain.FlagProgramRollup:   true,
	})
	snaps := database.NewSnapshotRepository(conn, zerolog.Nop())

	s := New(Config{
		Log:       zerolog.Nop(),
		Port:      0,
		DevMode:   true,
		Jobs:      svc,
		Events:    events.NewMapper(svc, fs, zerolog.Nop()),
		Store:     store,
		Snapshots: snaps,
		Flags:     fs,
		Gatherer:  reg,
	})
	s.now = func() time.Time { return testNow }
	return &testEnv{server: s, store: store, snapshots: snaps, flags: fs}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	require.NoError(t, env.store.Close())
	rec = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_EmitEventThenStatus(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/events",
		`{"event":"task.completed","payload":{"tenant_id":"t1","project_id":"p1"},"correlation_id":"c-1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var emitted events.Emitted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &emitted))
	assert.NotEmpty(t, emitted.ProjectJobID)

	rec = env.do(t, http.MethodGet, "/api/jobs/status?tenant=t1&project=p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status enqueue.JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Pending)
	assert.Equal(t, emitted.ProjectJobID, status.JobID)

	rec = env.do(t, http.MethodGet, "/api/jobs/status?tenant=t1&project=other", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Pending)
}

func TestServer_EmitEventRequiresTenant(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodPost, "/api/events", `{"event":"task.completed","payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ManualRecomputeCollapses(t *testing.T) {
	env := setupTestServer(t)

	first := env.do(t, http.MethodPost, "/api/tenants/t1/projects/p1/recompute", "")
	second := env.do(t, http.MethodPost, "/api/tenants/t1/projects/p1/recompute", "")
	require.Equal(t, http.StatusAccepted, first.Code)

	var a, b enqueueResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.True(t, a.Queued)
	assert.Equal(t, a.JobID, b.JobID)

	job, err := env.store.Lookup(context.Background(), domain.QueueRecompute,
		"kpi-project-all:ws:t1:project:p1:d:2024-06-03")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.ReasonManual, job.Payload.Reason)
}

func TestServer_ManualRollupAndStats(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/tenants/t1/programs/pg1/rollup", `{"as_of_date":"2024-06-01"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]queue.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats["rollup"].Ready)
	assert.Equal(t, 0, stats["recompute"].Ready)
}

func TestServer_ManualRollupBadDate(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodPost, "/api/tenants/t1/portfolios/pf1/rollup", `{"as_of_date":"June"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_FailedJobs(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/jobs/failed?queue=rollup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/jobs/failed?queue=nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/jobs/failed?limit=-1", "").Code)
}

func TestServer_ListSnapshots(t *testing.T) {
	env := setupTestServer(t)
	require.NoError(t, env.snapshots.UpsertSnapshot(context.Background(), &domain.Snapshot{
		SnapshotKey: domain.SnapshotKey{
			TenantID: "t1", ScopeType: domain.ScopePortfolio, ScopeID: "pf1",
			AsOfDate: "2024-06-03", MetricCode: domain.MetricTasksTotal,
		},
		Value:         42,
		InputHash:     "abc",
		EngineVersion: domain.EngineVersion,
		ComputedAt:    testNow,
	}))

	rec := env.do(t, http.MethodGet, "/api/tenants/t1/snapshots?scope_type=portfolio&scope_id=pf1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, 42.0, out[0].Value)
	assert.Equal(t, "abc", out[0].InputHash)

	rec = env.do(t, http.MethodGet, "/api/tenants/t2/snapshots?scope_type=portfolio&scope_id=pf1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out)

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodGet, "/api/tenants/t1/snapshots?scope_type=tenant&scope_id=t1", "").Code)
}

func TestServer_Flags(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPut, "/api/flags/kpi.recompute", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.flags.IsEnabled(domain.FlagRecompute))

	// With recompute off, events enqueue nothing.
	rec = env.do(t, http.MethodPost, "/api/events",
		`{"event":"task.completed","payload":{"tenant_id":"t1","project_id":"p1"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/flags/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kpi.recompute":false`)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/flags/kpi.unknown", `{"enabled":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/flags/kpi.recompute", `{}`).Code)
}

func TestServer_Metrics(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodPost, "/api/tenants/t1/projects/p1/recompute", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rollup_")
}
