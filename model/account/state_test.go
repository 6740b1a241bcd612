package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/deferq/model/address"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		event Event
		side  Side
		to    State
		ok    bool
	}{
		{"delegate", StateBaseOwned, EventDelegate, SideBase, StateDelegated, true},
		{"delegate twice", StateDelegated, EventDelegate, SideBase, StateDelegated, false},
		{"base mutate while owned", StateBaseOwned, EventMutate, SideBase, StateBaseOwned, true},
		{"base mutate while delegated", StateDelegated, EventMutate, SideBase, StateDelegated, false},
		{"ephemeral mutate while delegated", StateDelegated, EventMutate, SideEphemeral, StateDelegated, true},
		{"ephemeral mutate while owned", StateBaseOwned, EventMutate, SideEphemeral, StateBaseOwned, false},
		{"commit", StateDelegated, EventCommit, SideEphemeral, StateCommitting, true},
		{"commit settles", StateCommitting, EventSettle, SideBase, StateDelegated, true},
		{"undelegate", StateDelegated, EventUndelegate, SideEphemeral, StateUndelegating, true},
		{"undelegate while committing", StateCommitting, EventUndelegate, SideEphemeral, StateUndelegating, true},
		{"settle", StateUndelegating, EventSettle, SideBase, StateBaseOwned, true},
		{"close owned", StateBaseOwned, EventClose, SideBase, StateClosed, true},
		{"close delegated", StateDelegated, EventClose, SideBase, StateDelegated, false},
		{"close undelegating", StateUndelegating, EventClose, SideBase, StateUndelegating, false},
		{"mutate undelegating", StateUndelegating, EventMutate, SideEphemeral, StateUndelegating, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			to, err := Next(tc.from, tc.event, tc.side)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.to, to)
		})
	}
}

func TestView(t *testing.T) {
	acct := &Delegatable{
		Kind:       Kind,
		Address:    address.User(address.Principal("alice")),
		State:      StateUndelegating,
		Payload:    []byte("final"),
		Checkpoint: []byte("committed"),
	}
	base := acct.View(SideBase)
	assert.Equal(t, StateDelegated, base.State)
	assert.Equal(t, []byte("committed"), base.Payload)
	assert.False(t, IsSettled(base))

	ephemeral := acct.View(SideEphemeral)
	assert.Equal(t, StateUndelegating, ephemeral.State)
	assert.Equal(t, []byte("final"), ephemeral.Payload)

	acct.State = StateBaseOwned
	assert.True(t, IsSettled(acct.View(SideBase)))
	assert.False(t, acct.View(SideEphemeral).Present)
	assert.False(t, IsSettled(nil))
	assert.False(t, IsSettled(&Snapshot{State: StateBaseOwned}))
}

func TestEncodeDecode(t *testing.T) {
	acct := &Delegatable{Kind: Kind, State: StateDelegated, Payload: []byte{1}}
	data, err := Encode(acct)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, StateDelegated, decoded.State)
	assert.Equal(t, []byte{1}, decoded.Payload)

	data, err = Encode(&Delegatable{Kind: "other"})
	require.NoError(t, err)
	_, err = Decode(data)
	assert.Error(t, err)
}
