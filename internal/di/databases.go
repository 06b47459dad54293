package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/rollup/internal/config"
	"github.com/aristath/rollup/internal/database"
	"github.com/aristath/rollup/internal/queue"
)

// InitializeDatabases opens the snapshot database and the job store.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileDurable,
		Name:    "rollup",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rollup database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply rollup schema: %w", err)
	}
	container.DB = db

	store, err := queue.OpenBadgerStore(cfg.QueueDir(), log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	container.Queue = store

	log.Info().
		Str("database", db.Path()).
		Str("queue_dir", cfg.QueueDir()).
		Msg("Storage initialized")
	return container, nil
}
