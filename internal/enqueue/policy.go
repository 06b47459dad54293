package enqueue

import (
	"time"

	"github.com/aristath/rollup/internal/domain"
	"github.com/aristath/rollup/internal/queue"
)

// KindPolicy is the debounce delay and retry policy applied to one job kind.
type KindPolicy struct {
	Delay  time.Duration `yaml:"delay"`
	Policy queue.Policy  `yaml:",inline"`
}

// DefaultPolicies returns the built-in policy for every job kind.
func DefaultPolicies() map[domain.JobKind]KindPolicy {
	backoff := queue.Backoff{Type: queue.BackoffExponential, Base: 2 * time.Second, Max: 5 * time.Minute}
	policy := func(delay time.Duration, attempts int) KindPolicy {
		return KindPolicy{
			Delay: delay,
			Policy: queue.Policy{
				MaxAttempts:     attempts,
				Backoff:         backoff,
				RetainCompleted: 100,
				RetainFailed:    500,
			},
		}
	}

	return map[domain.JobKind]KindPolicy{
		domain.KindProjectRecompute:    policy(5*time.Second, 5),
		domain.KindProjectRecomputeAll: policy(5*time.Second, 5),
		domain.KindPortfolioRollup:     policy(30*time.Second, 5),
		domain.KindProgramRollup:       policy(30*time.Second, 5),
		domain.KindNightlyRefresh:      policy(0, 3),
		domain.KindStaleRefresh:        policy(0, 3),
	}
}
