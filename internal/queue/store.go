package queue

import (
	"context"
	"time"

	"github.com/aristath/rollup/internal/domain"
)

// Store persists delayed jobs across named queues.
//
// A key is owned by at most one live (waiting, delayed or active) job per
// queue. Adding a job whose key is owned by a waiting or delayed job is a
// no-op that returns the existing job. Adding while the owner is active
// stores a new job that takes over the key; the active job keeps running and
// no longer frees the key when it finishes. Once the owner completes or fails
// terminally its key is free.
//
// Every method returns domain.ErrBrokerUnavailable after Close.
type Store interface {
	// Add stores a job unless its key is held by a waiting or delayed job.
	// created reports whether a new job was written.
	Add(ctx context.Context, queue domain.QueueName, spec JobSpec) (job *Job, created bool, err error)
	// Claim marks the oldest due job active and returns it, or ErrNoJob.
	Claim(ctx context.Context, queue domain.QueueName) (*Job, error)
	// Complete records a successful run.
	Complete(ctx context.Context, job *Job) error
	// Fail counts an attempt. When retryable and attempts remain the job is
	// delayed by its backoff and retried is true; otherwise it is failed.
	Fail(ctx context.Context, job *Job, cause error, retryable bool) (retried bool, err error)
	// Reschedule delays an active job without counting an attempt.
	Reschedule(ctx context.Context, job *Job, delay time.Duration) error
	// Lookup returns the live job holding key, or nil.
	Lookup(ctx context.Context, queue domain.QueueName, key string) (*Job, error)
	// FindLive returns any live job whose key starts with keyPrefix, or nil.
	FindLive(ctx context.Context, queue domain.QueueName, keyPrefix string) (*Job, error)
	// Recover returns jobs left active by a previous process to waiting.
	Recover(ctx context.Context, queue domain.QueueName) (int, error)
	// Failed lists up to limit retained failed jobs, newest first.
	Failed(ctx context.Context, queue domain.QueueName, limit int) ([]*Job, error)
	// Stats counts the records held for a queue.
	Stats(ctx context.Context, queue domain.QueueName) (Stats, error)
	Close() error
}
