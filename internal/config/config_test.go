package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, cfg.Policies[domain.KindProjectRecompute].Delay)
	assert.Equal(t, 30*time.Second, cfg.Policies[domain.KindProgramRollup].Delay)
	assert.Equal(t, 3, cfg.Policies[domain.KindStaleRefresh].Policy.MaxAttempts)
	assert.Equal(t, 4, cfg.Workers.Concurrency(domain.QueueRecompute))
	assert.Equal(t, 2, cfg.Workers.Concurrency(domain.QueueRollup))
	assert.Equal(t, 1, cfg.Workers.Concurrency(domain.QueueScheduler))
	assert.Equal(t, "0 2 * * *", cfg.Scheduler.NightlyCron)
	for _, name := range domain.AllFlags {
		assert.True(t, cfg.DefaultFlags[name], name)
	}
}

func TestApplyYAML_OverlaysOnlyPresentKeys(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyYAML([]byte(`
policies:
  portfolio_rollup:
    delay: 45s
    backoff:
      type: fixed
      base: 3s
limiter:
  burst: 50
workers:
  rollup: 6
scheduler:
  lookback_days: 2
flags:
  kpi.rollup.program: false
`))
	require.NoError(t, err)

	pf := cfg.Policies[domain.KindPortfolioRollup]
	assert.Equal(t, 45*time.Second, pf.Delay)
	assert.Equal(t, 5, pf.Policy.MaxAttempts, "untouched field keeps its default")
	assert.Equal(t, queue.BackoffFixed, pf.Policy.Backoff.Type)
	assert.Equal(t, 3*time.Second, pf.Policy.Backoff.Base)
	assert.Equal(t, 5*time.Minute, pf.Policy.Backoff.Max)

	assert.Equal(t, 50, cfg.Limiter.Burst)
	assert.Equal(t, 5.0, cfg.Limiter.TokensPerSecond)
	assert.Equal(t, 6, cfg.Workers.Rollup)
	assert.Equal(t, 4, cfg.Workers.Recompute)
	assert.Equal(t, 2, cfg.Scheduler.LookbackDays)
	assert.Equal(t, 200, cfg.Scheduler.PageSize)
	assert.False(t, cfg.DefaultFlags[domain.FlagProgramRollup])
	assert.True(t, cfg.DefaultFlags[domain.FlagRecompute])
}

func TestApplyYAML_UnknownKind(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyYAML([]byte("policies:\n  bogus:\n    delay: 1s\n"))
	assert.Error(t, err)
}

func TestValidate_RejectsNonPositive(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"rate", func(c *Config) { c.Limiter.TokensPerSecond = 0 }},
		{"burst", func(c *Config) { c.Limiter.Burst = -1 }},
		{"concurrency", func(c *Config) { c.Workers.Rollup = 0 }},
		{"page size", func(c *Config) { c.Scheduler.PageSize = 0 }},
		{"attempts", func(c *Config) {
			p := c.Policies[domain.KindProjectRecompute]
			p.Policy.MaxAttempts = 0
			c.Policies[domain.KindProjectRecompute] = p
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_FromEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rollup.yaml")
	require.NoError(t, os.WriteFile(file, []byte("scheduler:\n  page_size: 50\n"), 0644))

	t.Setenv("ROLLUP_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("ROLLUP_PORT", "9090")
	t.Setenv("ROLLUP_WORKERS_RECOMPUTE", "8")
	t.Setenv("ROLLUP_REQUEUE_DELAY", "2s")
	t.Setenv("ROLLUP_CONFIG_FILE", file)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 8, cfg.Workers.Recompute)
	assert.Equal(t, 2*time.Second, cfg.Limiter.RequeueDelay)
	assert.Equal(t, 50, cfg.Scheduler.PageSize)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.DirExists(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "rollup.db"), cfg.DatabasePath())
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("ROLLUP_DATA_DIR", t.TempDir())
	t.Setenv("ROLLUP_LIMITER_BURST", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Limiter.Burst)
}
