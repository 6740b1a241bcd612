// Package poll layers caller-side waiting on top of the synchronous task
// queue, delegation and ledger operations: retry with backoff, waiting for
// settlement and scanning transaction logs for a response line.
package poll

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Backoff kinds.
const (
	KindFixed       = "fixed"
	KindExponential = "exponential"
)

// Backoff describes how long to wait between attempts.
type Backoff struct {
	Kind        string        `json:"kind,omitempty" yaml:"kind,omitempty" toml:"kind"`
	Delay       time.Duration `json:"delay,omitempty" yaml:"delay,omitempty" toml:"delay"`
	Multiplier  float64       `json:"multiplier,omitempty" yaml:"multiplier,omitempty" toml:"multiplier"`
	MaxDelay    time.Duration `json:"maxDelay,omitempty" yaml:"maxDelay,omitempty" toml:"max_delay"`
	MaxAttempts int           `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty" toml:"max_attempts"` // 0 means until the context ends
}

// Fixed returns a fixed backoff.
func Fixed(delay time.Duration, maxAttempts int) Backoff {
	return Backoff{Kind: KindFixed, Delay: delay, MaxAttempts: maxAttempts}
}

// Exponential returns an exponential backoff doubling from delay up to maxDelay.
func Exponential(delay, maxDelay time.Duration, maxAttempts int) Backoff {
	return Backoff{Kind: KindExponential, Delay: delay, Multiplier: 2, MaxDelay: maxDelay, MaxAttempts: maxAttempts}
}

// Validate checks the backoff fields.
func (b Backoff) Validate() error {
	switch strings.ToLower(b.Kind) {
	case "", KindFixed, KindExponential:
	default:
		return fmt.Errorf("poll: unsupported backoff kind %q", b.Kind)
	}
	if b.Delay < 0 || b.MaxDelay < 0 || b.MaxAttempts < 0 {
		return fmt.Errorf("poll: negative backoff setting")
	}
	return nil
}

// Next returns the delay before attempt+1 given attempt completed attempts,
// and false once MaxAttempts is reached.
func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	switch strings.ToLower(b.Kind) {
	case KindExponential:
		mult := b.Multiplier
		if mult <= 1 {
			mult = 2
		}
		delay := float64(b.Delay) * math.Pow(mult, float64(attempt-1))
		if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
			delay = float64(b.MaxDelay)
		}
		if delay > math.MaxInt64 {
			delay = math.MaxInt64
		}
		return time.Duration(delay), true
	default:
		return b.Delay, true
	}
}
