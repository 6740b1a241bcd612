package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	err := New(KindQueueFull, "enqueue", "q1", nil)
	assert.EqualError(t, err, "enqueue q1: QueueFull")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.NotErrorIs(t, err, ErrSlotAlreadyOccupied)

	wrapped := fmt.Errorf("schedule: %w", err)
	assert.ErrorIs(t, wrapped, ErrQueueFull)
	kind, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindQueueFull, kind)

	cause := errors.New("boom")
	withCause := New(KindMalformedRecord, "decode", "task", cause)
	assert.ErrorIs(t, withCause, cause)
	assert.Contains(t, withCause.Error(), "boom")
}

func TestSettlementNotFinalizedIsIllegalTransition(t *testing.T) {
	err := New(KindSettlementNotFinalized, "close", "acct", nil)
	assert.ErrorIs(t, err, ErrSettlementNotFinalized)
	assert.ErrorIs(t, err, ErrIllegalStateTransition)

	illegal := New(KindIllegalStateTransition, "close", "acct", nil)
	assert.NotErrorIs(t, illegal, ErrSettlementNotFinalized)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindQueueFull, true},
		{KindSlotAlreadyOccupied, true},
		{KindSettlementNotFinalized, true},
		{KindUnauthorizedAuthority, false},
		{KindMalformedRecord, false},
		{KindIllegalStateTransition, false},
		{KindUnsupportedTrigger, false},
		{KindQueueAlreadyExists, false},
		{KindSlotNotOccupied, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(New(tc.kind, "op", "res", nil)))
		})
	}
	assert.False(t, Retryable(errors.New("plain")))
	assert.True(t, Retryable(ErrQueueFull))
}
