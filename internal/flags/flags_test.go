package flags

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFlags(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestStore_Static(t *testing.T) {
	s := NewStatic(map[string]bool{"kpi.recompute": true})
	assert.True(t, s.IsEnabled("kpi.recompute"))
	assert.False(t, s.IsEnabled("kpi.rollup.program"))

	s.Set("kpi.recompute", false)
	assert.False(t, s.IsEnabled("kpi.recompute"))
}

func TestStore_LoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	writeFlags(t, path, "flags:\n  kpi.rollup.program: false\n  kpi.scheduler.stale: true\n")

	s, err := Load(path, map[string]bool{"kpi.recompute": true, "kpi.rollup.program": true}, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, s.IsEnabled("kpi.recompute"))
	assert.False(t, s.IsEnabled("kpi.rollup.program"))
	assert.True(t, s.IsEnabled("kpi.scheduler.stale"))
	assert.Equal(t, map[string]bool{
		"kpi.recompute":       true,
		"kpi.rollup.program":  false,
		"kpi.scheduler.stale": true,
	}, s.Snapshot())
}

func TestStore_LoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil, zerolog.Nop())
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFlags(t, path, "flags: [")
	_, err = Load(path, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestStore_ReloadKeepsValuesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	writeFlags(t, path, "flags:\n  kpi.recompute: true\n")

	s, err := Load(path, nil, zerolog.Nop())
	require.NoError(t, err)

	writeFlags(t, path, "flags: [")
	assert.Error(t, s.Reload())
	assert.True(t, s.IsEnabled("kpi.recompute"))

	writeFlags(t, path, "flags:\n  kpi.recompute: false\n")
	require.NoError(t, s.Reload())
	assert.False(t, s.IsEnabled("kpi.recompute"))
}

func TestStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	writeFlags(t, path, "flags:\n  kpi.recompute: false\n")

	s, err := Load(path, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	writeFlags(t, path, "flags:\n  kpi.recompute: true\n")

	assert.Eventually(t, func() bool { return s.IsEnabled("kpi.recompute") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestStore_WatchSurvivesRenameSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flags.yaml")
	writeFlags(t, path, "flags:\n  kpi.rollup.program: false\n")

	s, err := Load(path, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	time.Sleep(50 * time.Millisecond)

	save := func(content string) {
		tmp := filepath.Join(dir, "flags.yaml.tmp")
		writeFlags(t, tmp, content)
		require.NoError(t, os.Rename(tmp, path))
	}

	save("flags:\n  kpi.rollup.program: true\n")
	assert.Eventually(t, func() bool { return s.IsEnabled("kpi.rollup.program") }, 2*time.Second, 10*time.Millisecond)

	// A second atomic save is still seen.
	save("flags:\n  kpi.rollup.program: false\n")
	assert.Eventually(t, func() bool { return !s.IsEnabled("kpi.rollup.program") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
