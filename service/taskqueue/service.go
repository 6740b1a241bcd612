package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/bitmap"
	"github.com/viant/deferq/model/fault"
	"github.com/viant/deferq/model/queue"
	"github.com/viant/deferq/model/task"
	"github.com/viant/deferq/policy"
	"github.com/viant/deferq/service/event"
	"github.com/viant/deferq/service/store"
	"github.com/viant/deferq/tracing"
)

// MaxCapacity is the largest queue capacity; slot indexes are 16 bit.
const MaxCapacity = 1 << 16

// ProgramID owns every record written by the task queue.
var ProgramID = address.Program("task_queue")

// Service manages task queues persisted in a store.Store.
type Service struct {
	store  store.Store
	logger zerolog.Logger
	events *event.Service
}

// New creates a task queue service over st.
func New(st store.Store, opts ...Option) *Service {
	ret := &Service{store: st, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// CreateQueue registers a new queue named name in namespace, owned by owner.
// It fails with fault.ErrQueueAlreadyExists when the name is taken.
func (s *Service) CreateQueue(ctx context.Context, owner address.Address, namespace, name string, capacity uint32, pol *policy.Queue) (ret *queue.TaskQueue, err error) {
	ctx, span := tracing.StartSpan(ctx, "taskqueue.CreateQueue", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"queue.namespace": namespace, "queue.name": name})

	if capacity == 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d (1..%d)", ErrInvalidCapacity, capacity, MaxCapacity)
	}
	if pol == nil {
		pol = policy.Default()
	}
	queueAddr := address.Queue(namespace, name)
	resource := namespace + "/" + name

	nameRecord, err := queue.Encode(&queue.Name{Kind: queue.KindName, Namespace: namespace, Name: name, Queue: queueAddr})
	if err != nil {
		return nil, err
	}
	nameAddr := address.QueueName(namespace, name)
	if err = s.store.Create(ctx, &store.Account{Address: nameAddr, Owner: ProgramID, Data: nameRecord}); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fault.New(fault.KindQueueAlreadyExists, "create_queue", resource, nil)
		}
		return nil, fmt.Errorf("failed to register queue name %s: %w", resource, err)
	}

	now := clock.Now().UTC()
	ret = &queue.TaskQueue{
		Kind:           queue.KindTaskQueue,
		Address:        queueAddr,
		Namespace:      namespace,
		Name:           name,
		Owner:          owner,
		Capacity:       capacity,
		Bitmap:         bitmap.New(capacity).Bytes(),
		MinCrankReward: pol.MinCrankReward,
		StaleTaskAge:   pol.StaleAge(),
		CreatedAt:      now,
		UpdatedAt:      now,

		ReclaimAbandoned: pol.Reclaims(),
	}
	data, err := queue.Encode(ret)
	if err == nil {
		err = s.store.Create(ctx, &store.Account{Address: queueAddr, Owner: ProgramID, Data: data})
	}
	if err != nil {
		_ = s.store.Delete(ctx, nameAddr)
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fault.New(fault.KindQueueAlreadyExists, "create_queue", resource, nil)
		}
		return nil, fmt.Errorf("failed to create queue %s: %w", resource, err)
	}

	s.logger.Info().Str("queue", queueAddr.String()).Str("name", resource).Uint32("capacity", capacity).Msg("queue created")
	publish(ctx, s, event.TypeQueueCreated, "create_queue", queueAddr.String(), ret.Address)
	return ret, nil
}

// LookupQueue resolves a queue by namespace and name.
func (s *Service) LookupQueue(ctx context.Context, namespace, name string) (*queue.TaskQueue, error) {
	account, err := s.store.Get(ctx, address.QueueName(namespace, name))
	if err != nil {
		return nil, fmt.Errorf("failed to lookup queue %s/%s: %w", namespace, name, err)
	}
	record, err := queue.DecodeName(account.Data)
	if err != nil {
		return nil, err
	}
	return s.Queue(ctx, record.Queue)
}

// Queue loads the queue at queueAddr.
func (s *Service) Queue(ctx context.Context, queueAddr address.Address) (*queue.TaskQueue, error) {
	account, err := s.store.Get(ctx, queueAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue %s: %w", queueAddr, err)
	}
	return queue.DecodeTaskQueue(account.Data)
}

// HasAuthority reports whether authority may enqueue into queueAddr.
func (s *Service) HasAuthority(ctx context.Context, queueAddr, authority address.Address) (bool, error) {
	_, err := s.store.Get(ctx, address.QueueAuthority(queueAddr, authority))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("failed to check authority %s on queue %s: %w", authority, queueAddr, err)
}

// RegisterAuthority allows authority to enqueue into queueAddr. Registering
// an existing authority is a no-op.
func (s *Service) RegisterAuthority(ctx context.Context, queueAddr, authority address.Address) (err error) {
	ctx, span := tracing.StartSpan(ctx, "taskqueue.RegisterAuthority", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"queue": queueAddr.String(), "authority": authority.String()})

	if _, err = s.Queue(ctx, queueAddr); err != nil {
		return err
	}
	exists, err := s.HasAuthority(ctx, queueAddr, authority)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Debug().Str("queue", queueAddr.String()).Str("authority", authority.String()).Msg("authority already registered")
		return nil
	}
	authAddr := address.QueueAuthority(queueAddr, authority)
	data, err := queue.Encode(&queue.Authority{
		Kind:      queue.KindAuthority,
		Address:   authAddr,
		Queue:     queueAddr,
		Authority: authority,
		CreatedAt: clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	err = s.store.Create(ctx, &store.Account{Address: authAddr, Owner: ProgramID, Data: data})
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return fmt.Errorf("failed to register authority %s on queue %s: %w", authority, queueAddr, err)
	}
	s.logger.Info().Str("queue", queueAddr.String()).Str("authority", authority.String()).Msg("authority registered")
	return nil
}

// Enqueue stores a task in the lowest free slot of the queue.
//
// It fails with store.ErrNotFound when the queue does not exist,
// fault.ErrUnauthorizedAuthority when the authority is not registered,
// fault.ErrQueueFull when no slot is free, and fault.ErrSlotAlreadyOccupied
// when a concurrent caller claimed the same slot first. No error leaves the bitmap modified.
func (s *Service) Enqueue(ctx context.Context, req *EnqueueRequest) (ref *task.Ref, err error) {
	ctx, span := tracing.StartSpan(ctx, "taskqueue.Enqueue", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	resource := req.Queue.String()
	span.WithAttributes(map[string]string{"queue": resource, "authority": req.Authority.String()})

	if !req.Trigger.Kind.Known() {
		return nil, fault.Newf(fault.KindUnsupportedTrigger, "enqueue", resource, "tag %d", req.Trigger.Kind)
	}
	if err = req.Trigger.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	q, err := s.Queue(ctx, req.Queue)
	if err != nil {
		return nil, err
	}
	authorized, err := s.HasAuthority(ctx, req.Queue, req.Authority)
	if err != nil {
		return nil, err
	}
	if !authorized {
		return nil, fault.Newf(fault.KindUnauthorizedAuthority, "enqueue", resource, "authority %s is not registered", req.Authority)
	}
	reward := req.CrankReward
	if reward == 0 {
		reward = q.MinCrankReward
	}
	if reward < q.MinCrankReward {
		return nil, fmt.Errorf("%w: %d < %d", ErrCrankRewardTooLow, reward, q.MinCrankReward)
	}
	slot, ok := bitmap.FindFree(q.Bitmap, q.Capacity)
	if !ok {
		return nil, fault.Newf(fault.KindQueueFull, "enqueue", resource, "all %d slots occupied", q.Capacity)
	}

	aTask := &task.Task{
		Queue:        req.Queue,
		Slot:         uint16(slot),
		Trigger:      req.Trigger,
		CrankReward:  reward,
		QueuedAt:     clock.Now().Unix(),
		Description:  req.Description,
		Instructions: req.Instructions,
	}
	data, err := task.Encode(aTask)
	if err != nil {
		return nil, err
	}
	taskAddr := aTask.Address()
	if err = s.store.Create(ctx, &store.Account{Address: taskAddr, Owner: ProgramID, Data: data}); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fault.Newf(fault.KindSlotAlreadyOccupied, "enqueue", resource, "slot %d", slot)
		}
		return nil, fmt.Errorf("failed to write task %s: %w", taskAddr, err)
	}

	_, err = s.updateQueue(ctx, req.Queue, func(q *queue.TaskQueue, slots *bitmap.Bitmap) error {
		if slots.IsOccupied(slot) {
			return errBitTaken
		}
		return slots.MarkOccupied(slot)
	})
	if err != nil {
		_ = s.store.Delete(ctx, taskAddr)
		if errors.Is(err, errBitTaken) {
			return nil, fault.Newf(fault.KindSlotAlreadyOccupied, "enqueue", resource, "slot %d", slot)
		}
		return nil, err
	}

	taskRef := aTask.Ref()
	span.WithAttributes(map[string]string{"slot": strconv.Itoa(slot)})
	s.logger.Info().Str("queue", resource).Int("slot", slot).Str("task", taskAddr.String()).Str("trigger", req.Trigger.String()).Msg("task enqueued")
	publish(ctx, s, event.TypeTaskEnqueued, "enqueue", resource, Enqueued{Ref: taskRef, Authority: req.Authority, Trigger: req.Trigger.String()})
	return &taskRef, nil
}

// Release frees slot after its task was consumed. It clears the bitmap bit
// before removing the task record so a concurrent enqueue never observes a
// free bit with a live record it could not tell apart from its own. It fails
// with fault.ErrSlotNotOccupied when the bit is already clear.
func (s *Service) Release(ctx context.Context, queueAddr address.Address, slot uint16) error {
	return s.release(ctx, queueAddr, slot, false)
}

// Reclaim frees the slot of an abandoned task on behalf of the queue owner.
func (s *Service) Reclaim(ctx context.Context, queueAddr, caller address.Address, slot uint16) error {
	q, err := s.Queue(ctx, queueAddr)
	if err != nil {
		return err
	}
	if q.Owner != caller {
		return fault.Newf(fault.KindUnauthorizedAuthority, "reclaim", queueAddr.String(), "%s is not the queue owner", caller)
	}
	return s.release(ctx, queueAddr, slot, true)
}

// ReclaimAbandoned frees the slot of an abandoned task on behalf of the
// executor. It is allowed only when the stored queue policy reclaims
// abandoned tasks and fails with ErrReclaimDisabled otherwise.
func (s *Service) ReclaimAbandoned(ctx context.Context, queueAddr address.Address, slot uint16) error {
	q, err := s.Queue(ctx, queueAddr)
	if err != nil {
		return err
	}
	if !q.Policy().Reclaims() {
		return fmt.Errorf("%w: %s", ErrReclaimDisabled, queueAddr)
	}
	return s.release(ctx, queueAddr, slot, true)
}

func (s *Service) release(ctx context.Context, queueAddr address.Address, slot uint16, reclaimed bool) (err error) {
	ctx, span := tracing.StartSpan(ctx, "taskqueue.Release", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	resource := queueAddr.String()
	span.WithAttributes(map[string]string{"queue": resource, "slot": strconv.Itoa(int(slot))})

	_, err = s.updateQueue(ctx, queueAddr, func(q *queue.TaskQueue, slots *bitmap.Bitmap) error {
		if int(slot) >= int(q.Capacity) || !slots.IsOccupied(int(slot)) {
			return fault.Newf(fault.KindSlotNotOccupied, "release", resource, "slot %d", slot)
		}
		return slots.MarkFree(int(slot))
	})
	if err != nil {
		return err
	}
	if err = s.store.Delete(ctx, address.Task(queueAddr, slot)); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete task record of slot %d: %w", slot, err)
	}
	s.logger.Info().Str("queue", resource).Uint16("slot", slot).Bool("reclaimed", reclaimed).Msg("slot released")
	publish(ctx, s, event.TypeSlotReleased, "release", resource, Released{Queue: queueAddr, Slot: slot, Reclaimed: reclaimed})
	return nil
}

// Task reads and decodes the task occupying slot.
func (s *Service) Task(ctx context.Context, queueAddr address.Address, slot uint16) (*task.Task, error) {
	account, err := s.store.Get(ctx, address.Task(queueAddr, slot))
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s/%d: %w", queueAddr, slot, err)
	}
	ret, err := task.Decode(account.Data)
	if err != nil {
		return nil, err
	}
	if ret.Queue != queueAddr || ret.Slot != slot {
		return nil, fault.Newf(fault.KindMalformedRecord, "task", queueAddr.String(), "record at slot %d claims %s/%d", slot, ret.Queue, ret.Slot)
	}
	return ret, nil
}

// Occupied returns the occupied slot indexes in ascending order.
func (s *Service) Occupied(ctx context.Context, queueAddr address.Address) ([]int, error) {
	q, err := s.Queue(ctx, queueAddr)
	if err != nil {
		return nil, err
	}
	slots, err := q.Slots()
	if err != nil {
		return nil, err
	}
	return slots.Occupied(), nil
}

// Tasks returns the tasks of all occupied slots. Slots whose record is not
// written yet or already removed are skipped.
func (s *Service) Tasks(ctx context.Context, queueAddr address.Address) ([]*task.Task, error) {
	occupied, err := s.Occupied(ctx, queueAddr)
	if err != nil {
		return nil, err
	}
	var ret []*task.Task
	for _, slot := range occupied {
		aTask, err := s.Task(ctx, queueAddr, uint16(slot))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		ret = append(ret, aTask)
	}
	return ret, nil
}

// Queues lists all queues.
func (s *Service) Queues(ctx context.Context) ([]*queue.TaskQueue, error) {
	accounts, err := s.store.List(ctx, ProgramID)
	if err != nil {
		return nil, err
	}
	var ret []*queue.TaskQueue
	for _, account := range accounts {
		q, err := queue.DecodeTaskQueue(account.Data)
		if err != nil {
			continue // authority, name and task records share the owner
		}
		ret = append(ret, q)
	}
	return ret, nil
}

func (s *Service) updateQueue(ctx context.Context, queueAddr address.Address, fn func(q *queue.TaskQueue, slots *bitmap.Bitmap) error) (*queue.TaskQueue, error) {
	var ret *queue.TaskQueue
	_, err := s.store.Update(ctx, queueAddr, func(account *store.Account) error {
		q, err := queue.DecodeTaskQueue(account.Data)
		if err != nil {
			return err
		}
		slots, err := q.Slots()
		if err != nil {
			return err
		}
		if err = fn(q, slots); err != nil {
			return err
		}
		q.Bitmap = slots.Bytes()
		q.UpdatedAt = clock.Now().UTC()
		if account.Data, err = queue.Encode(q); err != nil {
			return err
		}
		ret = q
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load queue %s: %w", queueAddr, err)
		}
		return nil, err
	}
	return ret, nil
}

func publish[T any](ctx context.Context, s *Service, eventType, op, resource string, data T) {
	if s.events == nil {
		return
	}
	evt := event.NewEvent[T](&event.Context{Type: eventType, Service: "taskqueue", Op: op, Resource: resource}, data)
	if err := event.PublisherOf[T](s.events).Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("event not published")
	}
}
