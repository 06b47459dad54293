package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/rollup/internal/di"
	"github.com/aristath/rollup/internal/ratelimit"
	"github.com/aristath/rollup/internal/server"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log := setup()
	log.Info().Msg("Starting rollup service")

	container, _, err := di.Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Jobs:      container.Enqueue,
		Events:    container.Mapper,
		Store:     container.Queue,
		Snapshots: container.SnapshotRepo,
		Database:  container.DB,
		Flags:     container.Flags,
		Gatherer:  container.Registry,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Flags file hot reload
	if cfg.FlagsFile != "" {
		go func() {
			if err := container.Flags.Watch(ctx); err != nil {
				log.Error().Err(err).Msg("Flags watcher stopped")
			}
		}()
	}

	for name, pool := range container.Pools {
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s workers: %w", name, err)
		}
	}
	log.Info().Msg("Worker pools started")

	container.Scheduler.Start(ctx)

	go pruneLimiter(ctx, container.Limiter, cfg.Limiter.PruneAfter, log)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	log.Info().Msg("Shutting down...")
	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	for _, pool := range container.Pools {
		pool.Stop()
	}
	log.Info().Msg("Worker pools stopped")

	if err := container.DB.WALCheckpoint(); err != nil {
		log.Warn().Err(err).Msg("Final WAL checkpoint failed")
	}

	log.Info().Msg("Server stopped")
	return nil
}

// pruneLimiter drops idle tenant buckets every maxAge until ctx is done.
func pruneLimiter(ctx context.Context, limiter *ratelimit.RateLimiter, maxAge time.Duration, log zerolog.Logger) {
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(maxAge)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.PruneStale(maxAge); n > 0 {
				log.Debug().Int("pruned", n).Int("remaining", limiter.Len()).Msg("Pruned idle tenant buckets")
			}
		}
	}
}
