package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff describes the retry delay schedule.
type Backoff struct {
	Type BackoffType   `msgpack:"type" yaml:"type"`
	Base time.Duration `msgpack:"base" yaml:"base"`
	Max  time.Duration `msgpack:"max" yaml:"max"`
}

// Delay returns the wait before the retry that follows the given attempt
// (1-based). Exponential delays double from Base and are capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if b.Type == BackoffFixed {
		return b.Base
	}
	if attempt < 1 {
		attempt = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.MaxInterval = b.Max
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = 24 * time.Hour
	}
	eb.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	return d
}
