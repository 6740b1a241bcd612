package policy

import (
	"context"
	"fmt"
	"time"
)

// DefaultStaleTaskAge is used when a queue does not set its own stale age.
const DefaultStaleTaskAge = 24 * time.Hour

// Queue is the runtime policy of a task queue.
//
//   - MinCrankReward is the smallest reward an enqueued task may offer.
//   - StaleTaskAge bounds how long a transiently failing task is retried.
//   - ReclaimAbandoned lets the executor free slots of abandoned tasks; when
//     false abandoned tasks are only reported and keep their slot.
//
// A nil *Queue behaves like Default().
type Queue struct {
	MinCrankReward   uint64
	StaleTaskAge     time.Duration
	ReclaimAbandoned bool
}

// Default returns the policy applied when none is supplied.
func Default() *Queue {
	return &Queue{StaleTaskAge: DefaultStaleTaskAge}
}

// Config represents the declarative, serialisable form of Queue.
type Config struct {
	MinCrankReward   uint64 `json:"minCrankReward,omitempty" yaml:"minCrankReward,omitempty" toml:"min_crank_reward"`
	StaleTaskAge     string `json:"staleTaskAge,omitempty" yaml:"staleTaskAge,omitempty" toml:"stale_task_age"`
	ReclaimAbandoned bool   `json:"reclaimAbandoned,omitempty" yaml:"reclaimAbandoned,omitempty" toml:"reclaim_abandoned"`
}

// ToConfig converts a runtime Queue into a persistable Config.
func ToConfig(q *Queue) *Config {
	if q == nil {
		return nil
	}
	ret := &Config{MinCrankReward: q.MinCrankReward, ReclaimAbandoned: q.ReclaimAbandoned}
	if q.StaleTaskAge > 0 {
		ret.StaleTaskAge = q.StaleTaskAge.String()
	}
	return ret
}

// FromConfig converts a stored Config back to a runtime Queue.
func FromConfig(c *Config) (*Queue, error) {
	if c == nil {
		return Default(), nil
	}
	ret := &Queue{MinCrankReward: c.MinCrankReward, ReclaimAbandoned: c.ReclaimAbandoned, StaleTaskAge: DefaultStaleTaskAge}
	if c.StaleTaskAge != "" {
		d, err := time.ParseDuration(c.StaleTaskAge)
		if err != nil {
			return nil, fmt.Errorf("policy: invalid staleTaskAge %q: %w", c.StaleTaskAge, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("policy: staleTaskAge must be positive, got %s", d)
		}
		ret.StaleTaskAge = d
	}
	return ret, nil
}

// StaleAge returns the effective stale age.
func (q *Queue) StaleAge() time.Duration {
	if q == nil || q.StaleTaskAge <= 0 {
		return DefaultStaleTaskAge
	}
	return q.StaleTaskAge
}

// IsStale reports whether a task queued at queuedAt has outlived the stale
// age at now.
func (q *Queue) IsStale(queuedAt, now time.Time) bool {
	return now.Sub(queuedAt) > q.StaleAge()
}

// Reclaims reports whether abandoned slots are freed by the executor.
func (q *Queue) Reclaims() bool {
	return q != nil && q.ReclaimAbandoned
}

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPolicy embeds policy in ctx; it overrides the policy stored with the
// queue for executions started under ctx.
func WithPolicy(ctx context.Context, q *Queue) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, q)
}

// FromContext extracts the policy embedded with WithPolicy, or nil.
func FromContext(ctx context.Context) *Queue {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKey).(*Queue); ok {
		return v
	}
	return nil
}
