package task

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind is the wire tag of a trigger.
type TriggerKind uint8

const (
	// TriggerImmediate makes the task due as soon as it is queued.
	TriggerImmediate TriggerKind = 0
	// TriggerTimestamp makes the task due at a fixed unix time (seconds).
	TriggerTimestamp TriggerKind = 1
	// TriggerCron makes the task due at the first cron match after queueing.
	TriggerCron TriggerKind = 2
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerImmediate:
		return "immediate"
	case TriggerTimestamp:
		return "timestamp"
	case TriggerCron:
		return "cron"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Known reports whether k is a recognised tag.
func (k TriggerKind) Known() bool { return k <= TriggerCron }

// Trigger is the condition under which a task becomes eligible to run.
type Trigger struct {
	Kind      TriggerKind
	Timestamp int64  // epoch seconds, TriggerTimestamp only
	Cron      string // standard 5-field spec, TriggerCron only
}

// Now returns an immediate trigger.
func Now() Trigger { return Trigger{Kind: TriggerImmediate} }

// At returns a trigger due at t, truncated to seconds.
func At(t time.Time) Trigger { return Trigger{Kind: TriggerTimestamp, Timestamp: t.Unix()} }

// Cron returns a cron trigger.
func Cron(spec string) Trigger { return Trigger{Kind: TriggerCron, Cron: spec} }

// Validate checks that the trigger carries the fields its kind requires.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerImmediate:
		return nil
	case TriggerTimestamp:
		if t.Timestamp <= 0 {
			return fmt.Errorf("timestamp trigger requires positive epoch seconds, got %d", t.Timestamp)
		}
		return nil
	case TriggerCron:
		if len(t.Cron) > maxCronSize {
			return fmt.Errorf("cron spec exceeds %d bytes", maxCronSize)
		}
		if _, err := cron.ParseStandard(t.Cron); err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", t.Cron, err)
		}
		return nil
	}
	return fmt.Errorf("unsupported trigger kind %v", t.Kind)
}

// NextRun returns the time at which a task queued at queuedAt becomes due.
func (t Trigger) NextRun(queuedAt time.Time) (time.Time, error) {
	switch t.Kind {
	case TriggerImmediate:
		return queuedAt, nil
	case TriggerTimestamp:
		return time.Unix(t.Timestamp, 0), nil
	case TriggerCron:
		schedule, err := cron.ParseStandard(t.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron spec %q: %w", t.Cron, err)
		}
		return schedule.Next(queuedAt), nil
	}
	return time.Time{}, fmt.Errorf("unsupported trigger kind %v", t.Kind)
}

// IsDue reports whether a task queued at queuedAt is eligible at now.
func (t Trigger) IsDue(queuedAt, now time.Time) bool {
	next, err := t.NextRun(queuedAt)
	if err != nil {
		return false
	}
	return !now.Before(next)
}

func (t Trigger) String() string {
	switch t.Kind {
	case TriggerTimestamp:
		return fmt.Sprintf("timestamp(%d)", t.Timestamp)
	case TriggerCron:
		return fmt.Sprintf("cron(%s)", t.Cron)
	}
	return t.Kind.String()
}
