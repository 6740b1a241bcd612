package taskqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/fault"
	"github.com/viant/deferq/model/task"
	"github.com/viant/deferq/policy"
	"github.com/viant/deferq/service/event"
	"github.com/viant/deferq/service/store"
	"github.com/viant/deferq/service/store/memory"
)

var (
	owner     = address.Principal("owner")
	authority = address.Principal("scheduler")
)

func newQueue(t *testing.T, capacity uint32, opts ...Option) (*Service, address.Address) {
	t.Helper()
	srv := New(memory.New(), opts...)
	ctx := context.Background()
	q, err := srv.CreateQueue(ctx, owner, "test", "jobs", capacity, nil)
	require.NoError(t, err)
	require.NoError(t, srv.RegisterAuthority(ctx, q.Address, authority))
	return srv, q.Address
}

func request(queueAddr address.Address) *EnqueueRequest {
	return &EnqueueRequest{
		Queue:        queueAddr,
		Authority:    authority,
		Trigger:      task.Now(),
		Description:  "memo",
		Instructions: []byte{0x01, 0x02},
	}
}

func TestService_CreateQueue(t *testing.T) {
	srv := New(memory.New())
	ctx := context.Background()

	q, err := srv.CreateQueue(ctx, owner, "ns", "jobs", 10, &policy.Queue{MinCrankReward: 5, StaleTaskAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, address.Queue("ns", "jobs"), q.Address)
	assert.Equal(t, uint32(10), q.Capacity)
	assert.Len(t, q.Bitmap, 2)
	assert.Equal(t, uint64(5), q.MinCrankReward)

	_, err = srv.CreateQueue(ctx, owner, "ns", "jobs", 20, nil)
	assert.ErrorIs(t, err, fault.ErrQueueAlreadyExists)
	assert.False(t, fault.Retryable(err))

	other, err := srv.CreateQueue(ctx, owner, "other", "jobs", 20, nil)
	require.NoError(t, err)
	assert.NotEqual(t, q.Address, other.Address)
	assert.Equal(t, policy.DefaultStaleTaskAge, other.StaleTaskAge)

	found, err := srv.LookupQueue(ctx, "ns", "jobs")
	require.NoError(t, err)
	assert.Equal(t, q.Address, found.Address)

	_, err = srv.LookupQueue(ctx, "ns", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = srv.CreateQueue(ctx, owner, "ns", "empty", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
	_, err = srv.CreateQueue(ctx, owner, "ns", "huge", MaxCapacity+1, nil)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	queues, err := srv.Queues(ctx)
	require.NoError(t, err)
	assert.Len(t, queues, 2)
}

func TestService_RegisterAuthority(t *testing.T) {
	srv, queueAddr := newQueue(t, 10)
	ctx := context.Background()

	before, err := srv.store.List(ctx, ProgramID)
	require.NoError(t, err)
	require.NoError(t, srv.RegisterAuthority(ctx, queueAddr, authority))
	after, err := srv.store.List(ctx, ProgramID)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))

	ok, err := srv.HasAuthority(ctx, queueAddr, authority)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = srv.HasAuthority(ctx, queueAddr, address.Principal("stranger"))
	require.NoError(t, err)
	assert.False(t, ok)

	err = srv.RegisterAuthority(ctx, address.Queue("test", "missing"), authority)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_EnqueueRelease(t *testing.T) {
	srv, queueAddr := newQueue(t, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ref, err := srv.Enqueue(ctx, request(queueAddr))
		require.NoError(t, err)
		assert.Equal(t, uint16(i), ref.Slot)
		assert.Equal(t, address.Task(queueAddr, uint16(i)), ref.Address)
	}
	occupied, err := srv.Occupied(ctx, queueAddr)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, occupied)

	require.NoError(t, srv.Release(ctx, queueAddr, 1))
	occupied, err = srv.Occupied(ctx, queueAddr)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, occupied)
	_, err = srv.Task(ctx, queueAddr, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	ref, err := srv.Enqueue(ctx, request(queueAddr))
	require.NoError(t, err)
	assert.Equal(t, uint16(1), ref.Slot)

	err = srv.Release(ctx, queueAddr, 5)
	assert.ErrorIs(t, err, fault.ErrSlotNotOccupied)
	err = srv.Release(ctx, queueAddr, 200)
	assert.ErrorIs(t, err, fault.ErrSlotNotOccupied)
}

func TestService_Task(t *testing.T) {
	srv, queueAddr := newQueue(t, 4)
	ctx := context.Background()

	req := request(queueAddr)
	req.Trigger = task.Cron("*/5 * * * *")
	req.CrankReward = 7
	ref, err := srv.Enqueue(ctx, req)
	require.NoError(t, err)

	aTask, err := srv.Task(ctx, queueAddr, ref.Slot)
	require.NoError(t, err)
	assert.Equal(t, queueAddr, aTask.Queue)
	assert.Equal(t, req.Trigger, aTask.Trigger)
	assert.Equal(t, uint64(7), aTask.CrankReward)
	assert.Equal(t, "memo", aTask.Description)
	assert.Equal(t, req.Instructions, aTask.Instructions)

	tasks, err := srv.Tasks(ctx, queueAddr)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, ref.Address, tasks[0].Address())
}

func TestService_EnqueueRejects(t *testing.T) {
	srv := New(memory.New())
	ctx := context.Background()
	q, err := srv.CreateQueue(ctx, owner, "test", "paid", 4, &policy.Queue{MinCrankReward: 10})
	require.NoError(t, err)

	req := request(q.Address)
	_, err = srv.Enqueue(ctx, req)
	assert.ErrorIs(t, err, fault.ErrUnauthorizedAuthority)
	assert.False(t, fault.Retryable(err))

	require.NoError(t, srv.RegisterAuthority(ctx, q.Address, authority))
	req.CrankReward = 3
	_, err = srv.Enqueue(ctx, req)
	assert.ErrorIs(t, err, ErrCrankRewardTooLow)

	req.CrankReward = 0
	ref, err := srv.Enqueue(ctx, req)
	require.NoError(t, err)
	aTask, err := srv.Task(ctx, q.Address, ref.Slot)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), aTask.CrankReward)

	req.Trigger = task.Trigger{Kind: 9}
	_, err = srv.Enqueue(ctx, req)
	assert.ErrorIs(t, err, fault.ErrUnsupportedTrigger)

	req.Trigger = task.Cron("not a cron")
	_, err = srv.Enqueue(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidTrigger)

	req.Trigger = task.Now()
	req.Instructions = make([]byte, task.MaxInstructionsSize+1)
	_, err = srv.Enqueue(ctx, req)
	assert.ErrorIs(t, err, fault.ErrMalformedRecord)

	occupied, err := srv.Occupied(ctx, q.Address)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, occupied)
}

func TestService_QueueFull(t *testing.T) {
	srv, queueAddr := newQueue(t, 10)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := srv.Enqueue(ctx, request(queueAddr))
		require.NoError(t, err)
	}
	before, err := srv.Queue(ctx, queueAddr)
	require.NoError(t, err)

	_, err = srv.Enqueue(ctx, request(queueAddr))
	assert.ErrorIs(t, err, fault.ErrQueueFull)
	assert.True(t, fault.Retryable(err))

	after, err := srv.Queue(ctx, queueAddr)
	require.NoError(t, err)
	assert.Equal(t, before.Bitmap, after.Bitmap)
	assert.Equal(t, []byte{0xFF, 0x03}, after.Bitmap)
}

func TestService_SlotAlreadyOccupied(t *testing.T) {
	srv, queueAddr := newQueue(t, 10)
	ctx := context.Background()

	// a concurrent enqueuer claimed slot 0 but has not set its bit yet
	require.NoError(t, srv.store.Create(ctx, &store.Account{Address: address.Task(queueAddr, 0), Owner: ProgramID, Data: []byte{1}}))

	_, err := srv.Enqueue(ctx, request(queueAddr))
	assert.ErrorIs(t, err, fault.ErrSlotAlreadyOccupied)
	assert.True(t, fault.Retryable(err))

	occupied, err := srv.Occupied(ctx, queueAddr)
	require.NoError(t, err)
	assert.Empty(t, occupied)
}

func TestService_ConcurrentEnqueue(t *testing.T) {
	srv, queueAddr := newQueue(t, 10)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		slots = map[uint16]int{}
		full  int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ref, err := srv.Enqueue(ctx, request(queueAddr))
				switch {
				case err == nil:
					mu.Lock()
					slots[ref.Slot]++
					mu.Unlock()
					return
				case errors.Is(err, fault.ErrSlotAlreadyOccupied):
					continue
				case errors.Is(err, fault.ErrQueueFull):
					mu.Lock()
					full++
					mu.Unlock()
					return
				default:
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, slots, 10)
	for slot, count := range slots {
		assert.Equal(t, 1, count, "slot %d", slot)
		assert.Less(t, int(slot), 10)
	}
	assert.Equal(t, 15, full)
	tasks, err := srv.Tasks(ctx, queueAddr)
	require.NoError(t, err)
	assert.Len(t, tasks, 10)
}

func TestService_Reclaim(t *testing.T) {
	srv, queueAddr := newQueue(t, 4)
	ctx := context.Background()
	ref, err := srv.Enqueue(ctx, request(queueAddr))
	require.NoError(t, err)

	err = srv.Reclaim(ctx, queueAddr, authority, ref.Slot)
	assert.ErrorIs(t, err, fault.ErrUnauthorizedAuthority)

	require.NoError(t, srv.Reclaim(ctx, queueAddr, owner, ref.Slot))
	occupied, err := srv.Occupied(ctx, queueAddr)
	require.NoError(t, err)
	assert.Empty(t, occupied)
}

func TestService_ReclaimAbandoned(t *testing.T) {
	var testCases = []struct {
		description string
		reclaim     bool
		expectErr   error
	}{
		{description: "policy reclaims", reclaim: true},
		{description: "policy keeps slots", reclaim: false, expectErr: ErrReclaimDisabled},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			ctx := context.Background()
			srv := New(memory.New())
			q, err := srv.CreateQueue(ctx, owner, "test", "reclaim", 4, &policy.Queue{ReclaimAbandoned: testCase.reclaim})
			require.NoError(t, err)
			require.NoError(t, srv.RegisterAuthority(ctx, q.Address, authority))
			ref, err := srv.Enqueue(ctx, request(q.Address))
			require.NoError(t, err)

			err = srv.ReclaimAbandoned(ctx, q.Address, ref.Slot)
			occupied, occErr := srv.Occupied(ctx, q.Address)
			require.NoError(t, occErr)
			if testCase.expectErr != nil {
				assert.ErrorIs(t, err, testCase.expectErr)
				assert.Equal(t, []int{int(ref.Slot)}, occupied)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, occupied)
		})
	}
}

func TestService_EnqueueUnknownQueue(t *testing.T) {
	srv, _ := newQueue(t, 4)
	missing := address.Queue("test", "missing")
	_, err := srv.Enqueue(context.Background(), request(missing))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NotErrorIs(t, err, fault.ErrUnauthorizedAuthority)
	assert.Contains(t, err.Error(), missing.String())
}

func TestService_Events(t *testing.T) {
	events := event.New()
	defer events.Shutdown()
	enqueued := make(chan Enqueued, 1)
	released := make(chan Released, 1)
	event.SetListenerOf[Enqueued](events, func(e *event.Event[Enqueued]) { enqueued <- e.Data })
	event.SetListenerOf[Released](events, func(e *event.Event[Released]) { released <- e.Data })

	srv, queueAddr := newQueue(t, 4, WithEvents(events))
	ctx := context.Background()
	ref, err := srv.Enqueue(ctx, request(queueAddr))
	require.NoError(t, err)
	require.NoError(t, srv.Release(ctx, queueAddr, ref.Slot))

	select {
	case got := <-enqueued:
		assert.Equal(t, *ref, got.Ref)
		assert.Equal(t, "immediate", got.Trigger)
	case <-time.After(time.Second):
		t.Fatal("enqueue event not received")
	}
	select {
	case got := <-released:
		assert.Equal(t, ref.Slot, got.Slot)
		assert.False(t, got.Reclaimed)
	case <-time.After(time.Second):
		t.Fatal("release event not received")
	}
}
