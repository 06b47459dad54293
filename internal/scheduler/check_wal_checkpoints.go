package scheduler

import (
	"context"

	"github.com/aristath/rollup/internal/database"
	"github.com/rs/zerolog"
)

// walFrameThreshold is the WAL size, in frames, above which a full
// checkpoint is forced.
const walFrameThreshold = 1000

// CheckWALCheckpointsJob keeps the snapshot database's WAL file bounded.
type CheckWALCheckpointsJob struct {
	log zerolog.Logger
	db  *database.DB
}

// NewCheckWALCheckpointsJob creates a WAL maintenance job. A nil db makes Run a no-op.
func NewCheckWALCheckpointsJob(db *database.DB, log zerolog.Logger) *CheckWALCheckpointsJob {
	return &CheckWALCheckpointsJob{
		log: log.With().Str("job", "check_wal_checkpoints").Logger(),
		db:  db,
	}
}

// Name returns the job name.
func (j *CheckWALCheckpointsJob) Name() string {
	return "check_wal_checkpoints"
}

// Run runs a passive checkpoint and truncates the WAL when it has grown large.
func (j *CheckWALCheckpointsJob) Run(ctx context.Context) error {
	if j.db == nil {
		return nil
	}

	// busy, log frames, checkpointed frames
	var busy, frames, checkpointed int
	err := j.db.Conn().QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to check WAL checkpoint")
		return nil
	}

	if frames <= walFrameThreshold {
		j.log.Debug().Int("wal_frames", frames).Msg("WAL checkpoint status OK")
		return nil
	}

	j.log.Warn().
		Int("wal_frames", frames).
		Int("checkpointed", checkpointed).
		Msg("WAL file is large, truncating")
	return j.db.WALCheckpoint()
}
