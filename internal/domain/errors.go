package domain

import "errors"

var (
	// ErrInvalidPayload marks a job whose payload is missing required scope fields.
	// Such jobs are programmer errors and are never retried.
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrBrokerUnavailable is returned by a job store that cannot be reached.
	ErrBrokerUnavailable = errors.New("job broker unavailable")
)
