// Package main is the entry point for the KPI rollup service.
//
// The service recomputes project metrics when upstream data changes and rolls
// them up into portfolio and program snapshots. Work flows through three job
// queues (recompute, rollup, scheduler) backed by an embedded job store, and a
// cron cadence sweeps every tenant for stale snapshots.
package main

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/aristath/rollup/internal/config"
	"github.com/aristath/rollup/pkg/logger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the process logger.
func setup() (*config.Config, zerolog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)
	return cfg, log
}
