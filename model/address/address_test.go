package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	queue := Queue("scripts", "lottery_queue")

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Task(queue, 3), Task(queue, 3))
		assert.Equal(t, Queue("scripts", "lottery_queue"), queue)
	})

	t.Run("distinct slots", func(t *testing.T) {
		seen := map[Address]uint16{}
		for slot := uint16(0); slot < 512; slot++ {
			addr := Task(queue, slot)
			prev, ok := seen[addr]
			require.Falsef(t, ok, "slot %d collides with %d", slot, prev)
			seen[addr] = slot
		}
	})

	t.Run("length prefixed components", func(t *testing.T) {
		assert.NotEqual(t, Derive("x", []byte("ab"), []byte("c")), Derive("x", []byte("a"), []byte("bc")))
		assert.NotEqual(t, Derive("xa"), Derive("x", []byte("a")))
	})

	t.Run("seed tags separate namespaces", func(t *testing.T) {
		assert.NotEqual(t, Queue("ns", "q"), QueueName("ns", "q"))
	})
}

func TestParse(t *testing.T) {
	addr := User(Principal("alice"))
	parsed, err := Parse(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)

	_, err = Parse("zz")
	assert.Error(t, err)
	_, err = Parse("abcd")
	assert.Error(t, err)

	var decoded Address
	text, err := addr.MarshalText()
	require.NoError(t, err)
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, addr, decoded)
	assert.True(t, Address{}.IsZero())
	assert.False(t, addr.IsZero())
	assert.Len(t, addr.Short(), 8)
}
