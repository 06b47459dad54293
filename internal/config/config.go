// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/enqueue"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for the database and job store (always absolute)
	LogLevel  string
	LogPretty bool
	Port      int
	DevMode   bool

	// FlagsFile is an optional YAML flags file watched for changes.
	FlagsFile    string
	DefaultFlags map[string]bool

	Policies  map[domain.JobKind]enqueue.KindPolicy
	Limiter   LimiterConfig
	Workers   WorkersConfig
	Scheduler SchedulerConfig
}

// LimiterConfig configures the per-tenant token buckets.
type LimiterConfig struct {
	TokensPerSecond float64       `yaml:"tokens_per_second"`
	Burst           int           `yaml:"burst"`
	RequeueDelay    time.Duration `yaml:"requeue_delay"`
	PruneAfter      time.Duration `yaml:"prune_after"`
}

// WorkersConfig sizes the worker pool of each queue.
type WorkersConfig struct {
	Recompute    int           `yaml:"recompute"`
	Rollup       int           `yaml:"rollup"`
	Scheduler    int           `yaml:"scheduler"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Concurrency returns the worker count for a queue.
func (w WorkersConfig) Concurrency(q domain.QueueName) int {
	switch q {
	case domain.QueueRollup:
		return w.Rollup
	case domain.QueueScheduler:
		return w.Scheduler
	default:
		return w.Recompute
	}
}

// SchedulerConfig configures the sweeps and their cadence.
type SchedulerConfig struct {
	PageSize     int    `yaml:"page_size"`
	LookbackDays int    `yaml:"lookback_days"`
	NightlyCron  string `yaml:"nightly_cron"`
	StaleCron    string `yaml:"stale_cron"`
	// Fanout bounds concurrent per-tenant enqueues on each tick.
	Fanout int `yaml:"fanout"`
	// WALCron schedules the database WAL maintenance job. Empty disables it.
	WALCron string `yaml:"wal_cron"`
}

// fileOverlay is the shape of the optional YAML config file.
type fileOverlay struct {
	Policies  map[domain.JobKind]yaml.Node `yaml:"policies"`
	Limiter   yaml.Node                    `yaml:"limiter"`
	Workers   yaml.Node                    `yaml:"workers"`
	Scheduler yaml.Node                    `yaml:"scheduler"`
	Flags     map[string]bool              `yaml:"flags"`
}

// Load reads configuration from environment variables, then overlays the
// YAML file named by ROLLUP_CONFIG_FILE when set.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ROLLUP_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := Default()
	cfg.DataDir = absDataDir
	cfg.Port = getEnvAsInt("ROLLUP_PORT", cfg.Port)
	cfg.DevMode = getEnvAsBool("DEV_MODE", cfg.DevMode)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getEnvAsBool("LOG_PRETTY", cfg.DevMode)
	cfg.FlagsFile = getEnv("ROLLUP_FLAGS_FILE", "")

	cfg.Limiter.TokensPerSecond = getEnvAsFloat("ROLLUP_LIMITER_RATE", cfg.Limiter.TokensPerSecond)
	cfg.Limiter.Burst = getEnvAsInt("ROLLUP_LIMITER_BURST", cfg.Limiter.Burst)
	cfg.Limiter.RequeueDelay = getEnvAsDuration("ROLLUP_REQUEUE_DELAY", cfg.Limiter.RequeueDelay)
	cfg.Workers.Recompute = getEnvAsInt("ROLLUP_WORKERS_RECOMPUTE", cfg.Workers.Recompute)
	cfg.Workers.Rollup = getEnvAsInt("ROLLUP_WORKERS_ROLLUP", cfg.Workers.Rollup)
	cfg.Workers.Scheduler = getEnvAsInt("ROLLUP_WORKERS_SCHEDULER", cfg.Workers.Scheduler)
	cfg.Scheduler.PageSize = getEnvAsInt("ROLLUP_SWEEP_PAGE_SIZE", cfg.Scheduler.PageSize)
	cfg.Scheduler.LookbackDays = getEnvAsInt("ROLLUP_SWEEP_LOOKBACK_DAYS", cfg.Scheduler.LookbackDays)

	if path := getEnv("ROLLUP_CONFIG_FILE", ""); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	flags := make(map[string]bool, len(domain.AllFlags))
	for _, name := range domain.AllFlags {
		flags[name] = true
	}
	return &Config{
		DataDir:      "./data",
		LogLevel:     "info",
		Port:         8080,
		DefaultFlags: flags,
		Policies:     enqueue.DefaultPolicies(),
		Limiter: LimiterConfig{
			TokensPerSecond: 5,
			Burst:           20,
			RequeueDelay:    10 * time.Second,
			PruneAfter:      30 * time.Minute,
		},
		Workers: WorkersConfig{
			Recompute:    4,
			Rollup:       2,
			Scheduler:    1,
			PollInterval: 500 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			PageSize:     200,
			LookbackDays: 1,
			NightlyCron:  "0 2 * * *",
			StaleCron:    "*/15 * * * *",
			Fanout:       8,
			WALCron:      "@every 10m",
		},
	}
}

// ApplyFile overlays the YAML file at path. Keys absent from the file keep
// their current values, including individual fields of a job policy.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.ApplyYAML(data)
}

// ApplyYAML overlays raw YAML onto c.
func (c *Config) ApplyYAML(data []byte) error {
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	for kind, node := range overlay.Policies {
		if !kind.Valid() {
			return fmt.Errorf("unknown job kind %q in policies", kind)
		}
		policy := c.Policies[kind]
		if err := node.Decode(&policy); err != nil {
			return fmt.Errorf("invalid policy for %s: %w", kind, err)
		}
		c.Policies[kind] = policy
	}

	sections := []struct {
		name string
		node yaml.Node
		out  any
	}{
		{"limiter", overlay.Limiter, &c.Limiter},
		{"workers", overlay.Workers, &c.Workers},
		{"scheduler", overlay.Scheduler, &c.Scheduler},
	}
	for _, s := range sections {
		if s.node.Kind == 0 {
			continue
		}
		if err := s.node.Decode(s.out); err != nil {
			return fmt.Errorf("invalid %s section: %w", s.name, err)
		}
	}

	for name, enabled := range overlay.Flags {
		c.DefaultFlags[name] = enabled
	}
	return nil
}

// Validate checks that every numeric setting is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Limiter.TokensPerSecond <= 0 {
		return fmt.Errorf("limiter tokens_per_second must be positive")
	}
	if c.Limiter.Burst <= 0 {
		return fmt.Errorf("limiter burst must be positive")
	}
	if c.Limiter.RequeueDelay <= 0 {
		return fmt.Errorf("limiter requeue_delay must be positive")
	}
	for _, q := range domain.AllQueues {
		if c.Workers.Concurrency(q) <= 0 {
			return fmt.Errorf("%s worker concurrency must be positive", q)
		}
	}
	if c.Scheduler.PageSize <= 0 {
		return fmt.Errorf("scheduler page_size must be positive")
	}
	if c.Scheduler.LookbackDays <= 0 {
		return fmt.Errorf("scheduler lookback_days must be positive")
	}
	for kind, p := range c.Policies {
		if p.Policy.MaxAttempts <= 0 {
			return fmt.Errorf("%s max_attempts must be positive", kind)
		}
		if p.Delay < 0 {
			return fmt.Errorf("%s delay must not be negative", kind)
		}
	}
	return nil
}

// DatabasePath returns the path of the snapshot database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "rollup.db")
}

// QueueDir returns the directory of the job store.
func (c *Config) QueueDir() string {
	return filepath.Join(c.DataDir, "queue")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
