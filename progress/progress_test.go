package progress

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdate(t *testing.T) {
	var seen []Progress
	tr := New("crank-1", func(p Progress) { seen = append(seen, p) })
	tr.Update(Delta{Dispatched: 1, InFlight: 1})
	tr.Update(Delta{Confirmed: 1, InFlight: -1})

	snap := tr.Snapshot()
	assert.Equal(t, 1, snap.Dispatched)
	assert.Equal(t, 1, snap.Confirmed)
	assert.Equal(t, 0, snap.InFlight)
	assert.Len(t, seen, 2)
	assert.Equal(t, 1, seen[0].InFlight)
}

func TestConcurrentUpdate(t *testing.T) {
	tr := New("crank", nil)
	ctx := WithTracker(context.Background(), tr)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			UpdateCtx(ctx, Delta{Retried: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tr.Snapshot().Retried)
}

func TestNilTracker(t *testing.T) {
	var tr *Progress
	tr.Update(Delta{Failed: 1})
	assert.Equal(t, 0, tr.Snapshot().Failed)
	UpdateCtx(context.Background(), Delta{Failed: 1})
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}
