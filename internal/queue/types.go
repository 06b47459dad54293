package queue

import (
	"time"

	"github.com/aristath/rollup/internal/domain"
)

// JobState is the lifecycle state of a stored job.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Live reports whether a job in this state still owns its key.
func (s JobState) Live() bool {
	switch s {
	case StateWaiting, StateDelayed, StateActive:
		return true
	}
	return false
}

// Policy controls retries and record retention for a job.
type Policy struct {
	MaxAttempts     int     `msgpack:"max_attempts" yaml:"max_attempts"`
	Backoff         Backoff `msgpack:"backoff" yaml:"backoff"`
	RetainCompleted int     `msgpack:"retain_completed" yaml:"retain_completed"`
	RetainFailed    int     `msgpack:"retain_failed" yaml:"retain_failed"`
}

// JobSpec describes a job to add to a queue.
type JobSpec struct {
	Key     string
	Kind    domain.JobKind
	Payload domain.JobPayload
	Delay   time.Duration
	Policy  Policy
}

// Job is a stored job record.
type Job struct {
	ID         string            `msgpack:"id" json:"id"`
	Key        string            `msgpack:"key" json:"key"`
	Queue      domain.QueueName  `msgpack:"queue" json:"queue"`
	Kind       domain.JobKind    `msgpack:"kind" json:"kind"`
	Payload    domain.JobPayload `msgpack:"payload" json:"payload"`
	State      JobState          `msgpack:"state" json:"state"`
	Attempts   int               `msgpack:"attempts" json:"attempts"`
	Policy     Policy            `msgpack:"policy" json:"-"`
	RunAt      time.Time         `msgpack:"run_at" json:"run_at"`
	CreatedAt  time.Time         `msgpack:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `msgpack:"updated_at" json:"updated_at"`
	FinishedAt time.Time         `msgpack:"finished_at" json:"finished_at,omitempty"`
	LastError  string            `msgpack:"last_error" json:"last_error,omitempty"`
}

// Stats counts the records held for one queue.
type Stats struct {
	Ready     int `json:"ready"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
