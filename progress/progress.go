package progress

import (
	"context"
	"sync"
	"time"
)

// Delta represents an incremental counter change emitted by the scanner or
// a crank worker.
type Delta struct {
	Dispatched int
	Confirmed  int
	Failed     int
	Retried    int
	Abandoned  int
	Reclaimed  int
	InFlight   int
}

// Progress keeps aggregated crank counters. It is safe for concurrent use.
type Progress struct {
	Crank     string
	StartedAt time.Time

	Dispatched int
	Confirmed  int
	Failed     int
	Retried    int
	Abandoned  int
	Reclaimed  int
	InFlight   int

	mu       sync.Mutex
	onChange func(Progress)
}

// New returns a tracker for the named crank.
func New(crank string, onChange func(Progress)) *Progress {
	return &Progress{Crank: crank, StartedAt: time.Now(), onChange: onChange}
}

// Update applies d. The onChange callback runs outside the lock with a copy
// of the updated counters.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.Dispatched += d.Dispatched
	p.Confirmed += d.Confirmed
	p.Failed += d.Failed
	p.Retried += d.Retried
	p.Abandoned += d.Abandoned
	p.Reclaimed += d.Reclaimed
	p.InFlight += d.InFlight
	snapshot := p.copyLocked()
	cb := p.onChange
	p.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy suitable for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyLocked()
}

// OnChange replaces the change callback; nil disables it.
func (p *Progress) OnChange(cb func(Progress)) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.onChange = cb
	p.mu.Unlock()
}

func (p *Progress) copyLocked() Progress {
	return Progress{
		Crank:      p.Crank,
		StartedAt:  p.StartedAt,
		Dispatched: p.Dispatched,
		Confirmed:  p.Confirmed,
		Failed:     p.Failed,
		Retried:    p.Retried,
		Abandoned:  p.Abandoned,
		Reclaimed:  p.Reclaimed,
		InFlight:   p.InFlight,
	}
}

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithTracker embeds tracker in ctx.
func WithTracker(ctx context.Context, tracker *Progress) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, trackerKey, tracker)
}

// FromContext extracts the tracker from ctx.
func FromContext(ctx context.Context) (*Progress, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Progress)
	return tr, ok
}

// UpdateCtx applies d to the tracker carried by ctx, if any.
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}
