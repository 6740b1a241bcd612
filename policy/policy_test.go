package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigConversion(t *testing.T) {
	q := &Queue{MinCrankReward: 10, StaleTaskAge: time.Minute, ReclaimAbandoned: true}
	cfg := ToConfig(q)
	assert.Equal(t, "1m0s", cfg.StaleTaskAge)

	back, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, q, back)

	def, err := FromConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultStaleTaskAge, def.StaleTaskAge)

	_, err = FromConfig(&Config{StaleTaskAge: "soon"})
	assert.Error(t, err)
	_, err = FromConfig(&Config{StaleTaskAge: "-1s"})
	assert.Error(t, err)
	assert.Nil(t, ToConfig(nil))
}

func TestIsStale(t *testing.T) {
	queuedAt := time.Unix(1000, 0)
	q := &Queue{StaleTaskAge: time.Minute}
	assert.False(t, q.IsStale(queuedAt, queuedAt.Add(time.Minute)))
	assert.True(t, q.IsStale(queuedAt, queuedAt.Add(time.Minute+time.Second)))

	var nilQueue *Queue
	assert.False(t, nilQueue.IsStale(queuedAt, queuedAt.Add(time.Hour)))
	assert.True(t, nilQueue.IsStale(queuedAt, queuedAt.Add(DefaultStaleTaskAge+time.Second)))
	assert.False(t, nilQueue.Reclaims())
}

func TestContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	q := &Queue{ReclaimAbandoned: true}
	ctx := WithPolicy(context.Background(), q)
	assert.Same(t, q, FromContext(ctx))
}
