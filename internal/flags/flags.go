// Package flags serves feature flags from an in-memory set optionally backed
// by a YAML file that is reloaded when it changes.
//
// File format:
//
//	flags:
//	  kpi.recompute: true
//	  kpi.rollup.program: false
package flags

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Flags map[string]bool `yaml:"flags"`
}

// Store holds the current flag values. Flags not present fall back to the
// defaults given at construction, then to false.
type Store struct {
	mu       sync.RWMutex
	defaults map[string]bool
	values   map[string]bool
	path     string
	log      zerolog.Logger
}

// NewStatic returns a store with fixed values and no backing file.
func NewStatic(values map[string]bool) *Store {
	return &Store{
		defaults: copyFlags(values),
		values:   map[string]bool{},
		log:      zerolog.Nop(),
	}
}

// Load reads path over defaults. An empty path returns a static store.
func Load(path string, defaults map[string]bool, log zerolog.Logger) (*Store, error) {
	s := NewStatic(defaults)
	s.path = path
	s.log = log.With().Str("component", "flags").Logger()
	if path == "" {
		return s, nil
	}
	values, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s.values = values
	return s, nil
}

// IsEnabled returns the current value of name.
func (s *Store) IsEnabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[name]; ok {
		return v
	}
	return s.defaults[name]
}

// Set overrides one flag until the next file reload.
func (s *Store) Set(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = enabled
}

// Snapshot returns the effective value of every known flag.
func (s *Store) Snapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := copyFlags(s.defaults)
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Reload rereads the backing file. A failed read keeps the previous values.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	values, err := readFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// Watch reloads the backing file whenever it is written or replaced, until
// ctx is cancelled. The parent directory is watched so a save through rename
// does not drop the watch.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	s.log.Info().Str("path", s.path).Msg("Watching flags file")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// A rename or remove is followed by a Create of the new file.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.log.Error().Err(err).Str("path", s.path).Msg("Flags reload failed, keeping previous values")
				continue
			}
			s.log.Info().Interface("flags", s.Snapshot()).Msg("Flags reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error().Err(err).Msg("Flags watcher error")
		}
	}
}

func readFile(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flags file: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse flags file %s: %w", path, err)
	}
	if f.Flags == nil {
		f.Flags = map[string]bool{}
	}
	return f.Flags, nil
}

func copyFlags(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
