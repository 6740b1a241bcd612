package delegation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/model/account"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/fault"
	"github.com/viant/deferq/service/event"
	"github.com/viant/deferq/service/store"
	"github.com/viant/deferq/service/store/memory"
)

var (
	owner     = address.Principal("alice")
	validator = address.Principal("validator-1")
)

func newService(t *testing.T, opts ...Option) (*Service, address.Address) {
	t.Helper()
	cfg := Config{SettlementDelay: 2 * time.Second, SettlementJitter: time.Second, PollInterval: 10 * time.Millisecond}
	opts = append([]Option{WithConfig(cfg), WithJitter(func(max time.Duration) time.Duration { return max })}, opts...)
	srv := New(memory.New(), opts...)
	acct, err := srv.Initialize(context.Background(), owner, address.Principal("counter"), []byte("v0"))
	require.NoError(t, err)
	return srv, acct.Address
}

func TestService_Lifecycle(t *testing.T) {
	advance, restore := clock.Freeze(time.Unix(1_700_000_000, 0))
	defer restore()
	srv, addr := newService(t)
	ctx := context.Background()

	snapshot, err := srv.Snapshot(ctx, account.SideBase, addr)
	require.NoError(t, err)
	assert.Equal(t, account.StateBaseOwned, snapshot.State)
	assert.True(t, account.IsSettled(snapshot))

	acct, err := srv.Delegate(ctx, owner, addr, validator)
	require.NoError(t, err)
	assert.Equal(t, account.StateDelegated, acct.State)
	assert.Equal(t, validator, acct.Validator)

	_, err = srv.Mutate(ctx, account.SideBase, owner, addr, []byte("base"))
	assert.ErrorIs(t, err, fault.ErrIllegalStateTransition)
	assert.NotErrorIs(t, err, fault.ErrSettlementNotFinalized)

	_, err = srv.Mutate(ctx, account.SideEphemeral, validator, addr, []byte("v1"))
	require.NoError(t, err)

	err = srv.Close(ctx, owner, addr)
	assert.ErrorIs(t, err, fault.ErrIllegalStateTransition)
	assert.False(t, fault.Retryable(err))

	acct, err = srv.Undelegate(ctx, validator, addr)
	require.NoError(t, err)
	assert.Equal(t, account.StateUndelegating, acct.State)

	snapshot, err = srv.Snapshot(ctx, account.SideBase, addr)
	require.NoError(t, err)
	assert.Equal(t, account.StateDelegated, snapshot.State)
	assert.False(t, account.IsSettled(snapshot))

	err = srv.Close(ctx, owner, addr)
	assert.ErrorIs(t, err, fault.ErrSettlementNotFinalized)
	assert.ErrorIs(t, err, fault.ErrIllegalStateTransition)
	assert.True(t, fault.Retryable(err))

	_, err = srv.Mutate(ctx, account.SideBase, owner, addr, []byte("base"))
	assert.ErrorIs(t, err, fault.ErrSettlementNotFinalized)

	_, err = srv.Settle(ctx, addr)
	assert.ErrorIs(t, err, fault.ErrSettlementNotFinalized)

	advance(3 * time.Second)
	acct, err = srv.Settle(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, account.StateBaseOwned, acct.State)
	assert.True(t, acct.Validator.IsZero())

	snapshot, err = srv.Snapshot(ctx, account.SideBase, addr)
	require.NoError(t, err)
	assert.True(t, account.IsSettled(snapshot))
	assert.Equal(t, []byte("v1"), snapshot.Payload)

	_, err = srv.Mutate(ctx, account.SideBase, owner, addr, []byte("v2"))
	require.NoError(t, err)

	require.NoError(t, srv.Close(ctx, owner, addr))
	snapshot, err = srv.Snapshot(ctx, account.SideBase, addr)
	require.NoError(t, err)
	assert.False(t, snapshot.Present)
	_, err = srv.Load(ctx, addr)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_DelegateTwice(t *testing.T) {
	srv, addr := newService(t)
	ctx := context.Background()
	_, err := srv.Delegate(ctx, owner, addr, validator)
	require.NoError(t, err)
	_, err = srv.Delegate(ctx, owner, addr, validator)
	assert.ErrorIs(t, err, fault.ErrIllegalStateTransition)
}

func TestService_Authorization(t *testing.T) {
	srv, addr := newService(t)
	ctx := context.Background()
	mallory := address.Principal("mallory")

	_, err := srv.Delegate(ctx, mallory, addr, validator)
	assert.ErrorIs(t, err, fault.ErrUnauthorizedAuthority)
	_, err = srv.Mutate(ctx, account.SideBase, mallory, addr, nil)
	assert.ErrorIs(t, err, fault.ErrUnauthorizedAuthority)
	_, err = srv.Mutate(ctx, account.SideEphemeral, validator, addr, nil)
	assert.ErrorIs(t, err, fault.ErrIllegalStateTransition)

	_, err = srv.Delegate(ctx, owner, addr, validator)
	require.NoError(t, err)
	_, err = srv.Mutate(ctx, account.SideEphemeral, mallory, addr, nil)
	assert.ErrorIs(t, err, fault.ErrUnauthorizedAuthority)
	_, err = srv.Undelegate(ctx, mallory, addr)
	assert.ErrorIs(t, err, fault.ErrUnauthorizedAuthority)

	_, err = srv.Initialize(ctx, owner, address.Address{}, nil)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

// hookedStore runs beforeDelete right before a conditional delete reaches
// the underlying store.
type hookedStore struct {
	store.Store
	beforeDelete func()
}

func (h *hookedStore) DeleteIf(ctx context.Context, addr address.Address, fn store.Mutator) error {
	if h.beforeDelete != nil {
		h.beforeDelete()
	}
	return h.Store.DeleteIf(ctx, addr, fn)
}

func TestService_CloseAfterDelegate(t *testing.T) {
	ctx := context.Background()
	st := &hookedStore{Store: memory.New()}
	srv := New(st)
	acct, err := srv.Initialize(ctx, owner, address.Address{}, []byte("v0"))
	require.NoError(t, err)

	var delegateErr error
	st.beforeDelete = func() {
		_, delegateErr = srv.Delegate(ctx, owner, acct.Address, validator)
	}
	err = srv.Close(ctx, owner, acct.Address)
	require.NoError(t, delegateErr)
	assert.ErrorIs(t, err, fault.ErrIllegalStateTransition)

	stored, err := srv.Load(ctx, acct.Address)
	require.NoError(t, err)
	assert.Equal(t, account.StateDelegated, stored.State)
}

func TestService_ConcurrentCloseDelegate(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 50; round++ {
		srv := New(memory.New())
		acct, err := srv.Initialize(ctx, owner, address.Address{}, nil)
		require.NoError(t, err)

		var closeErr, delegateErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			closeErr = srv.Close(ctx, owner, acct.Address)
		}()
		go func() {
			defer wg.Done()
			_, delegateErr = srv.Delegate(ctx, owner, acct.Address, validator)
		}()
		wg.Wait()

		stored, err := srv.Load(ctx, acct.Address)
		if closeErr == nil {
			assert.ErrorIs(t, delegateErr, store.ErrNotFound, "round %d", round)
			assert.ErrorIs(t, err, store.ErrNotFound, "round %d", round)
			continue
		}
		require.NoError(t, delegateErr, "round %d", round)
		assert.ErrorIs(t, closeErr, fault.ErrIllegalStateTransition, "round %d", round)
		require.NoError(t, err)
		assert.Equal(t, account.StateDelegated, stored.State)
	}
}

func TestService_ConcurrentMutateUndelegate(t *testing.T) {
	ctx := context.Background()
	srv, addr := newService(t)
	_, err := srv.Delegate(ctx, owner, addr, validator)
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	var undelegated *account.Delegatable
	var undelegateErr error
	wg.Add(writers + 1)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = srv.Mutate(ctx, account.SideEphemeral, validator, addr, []byte(fmt.Sprintf("v%d", i)))
		}(i)
	}
	go func() {
		defer wg.Done()
		undelegated, undelegateErr = srv.Undelegate(ctx, validator, addr)
	}()
	wg.Wait()
	require.NoError(t, undelegateErr)

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, fault.ErrIllegalStateTransition)
		}
	}
	stored, err := srv.Load(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, account.StateUndelegating, stored.State)
	assert.Equal(t, undelegated.Pending, stored.Payload, "no write lands after undelegation")
	assert.Equal(t, stored.Pending, stored.Payload)

	_, err = srv.Mutate(ctx, account.SideEphemeral, validator, addr, []byte("late"))
	assert.ErrorIs(t, err, fault.ErrIllegalStateTransition)
}

func TestService_Commit(t *testing.T) {
	advance, restore := clock.Freeze(time.Unix(1_700_000_000, 0))
	defer restore()
	srv, addr := newService(t)
	ctx := context.Background()

	_, err := srv.Delegate(ctx, owner, addr, validator)
	require.NoError(t, err)
	_, err = srv.Mutate(ctx, account.SideEphemeral, validator, addr, []byte("v1"))
	require.NoError(t, err)
	acct, err := srv.Commit(ctx, validator, addr)
	require.NoError(t, err)
	assert.Equal(t, account.StateCommitting, acct.State)

	snapshot, err := srv.Snapshot(ctx, account.SideBase, addr)
	require.NoError(t, err)
	assert.Equal(t, account.StateDelegated, snapshot.State)
	assert.Equal(t, []byte("v0"), snapshot.Payload)

	_, err = srv.Mutate(ctx, account.SideEphemeral, validator, addr, []byte("v2"))
	require.NoError(t, err)

	advance(2 * time.Second)
	acct, err = srv.Settle(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, account.StateDelegated, acct.State)
	assert.Equal(t, uint64(1), acct.Commits)

	snapshot, err = srv.Snapshot(ctx, account.SideBase, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), snapshot.Payload)
	ephemeral, err := srv.Snapshot(ctx, account.SideEphemeral, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), ephemeral.Payload)
}

func TestSettler(t *testing.T) {
	advance, restore := clock.Freeze(time.Unix(1_700_000_000, 0))
	defer restore()
	events := event.New()
	defer events.Shutdown()
	transitions := make(chan Transition, 16)
	event.SetListenerOf[Transition](events, func(e *event.Event[Transition]) { transitions <- e.Data })

	srv, addr := newService(t, WithEvents(events))
	ctx := context.Background()
	_, err := srv.Delegate(ctx, owner, addr, validator)
	require.NoError(t, err)
	_, err = srv.Undelegate(ctx, validator, addr)
	require.NoError(t, err)

	settler := NewSettler(srv)
	settled, err := settler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, settled)

	advance(3 * time.Second)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = settler.Start(runCtx)
	}()

	require.Eventually(t, func() bool {
		snapshot, err := srv.Snapshot(ctx, account.SideBase, addr)
		return err == nil && account.IsSettled(snapshot)
	}, time.Second, 5*time.Millisecond)
	settler.Shutdown()
	wg.Wait()

	var seen []account.State
	for len(seen) < 3 {
		select {
		case tr := <-transitions:
			seen = append(seen, tr.To)
		case <-time.After(time.Second):
			t.Fatalf("transitions: %v", seen)
		}
	}
	assert.Equal(t, []account.State{account.StateDelegated, account.StateUndelegating, account.StateBaseOwned}, seen)
}
