package queue

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoJob is returned by Claim when no job is due.
var ErrNoJob = errors.New("queue: no job ready")

// RequeueError asks the worker pool to run the job again after Delay
// without counting an attempt.
type RequeueError struct {
	Delay time.Duration
}

func (e *RequeueError) Error() string {
	return fmt.Sprintf("queue: requeue after %s", e.Delay)
}

// Requeue builds a RequeueError.
func Requeue(delay time.Duration) error {
	return &RequeueError{Delay: delay}
}

// AsRequeue reports whether err asks for a requeue and returns the delay.
func AsRequeue(err error) (time.Duration, bool) {
	var re *RequeueError
	if errors.As(err, &re) {
		return re.Delay, true
	}
	return 0, false
}
