package clock

import (
	"sync"
	"time"
)

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Freeze pins NowFunc to t and returns a function restoring the previous
// clock together with an advance helper. Intended for tests only.
func Freeze(t time.Time) (advance func(d time.Duration), restore func()) {
	previous := NowFunc
	var mu sync.Mutex
	current := t
	NowFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance = func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}
	restore = func() { NowFunc = previous }
	return advance, restore
}
