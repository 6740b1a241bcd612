// Package queue holds the persisted task queue and queue authority records.
package queue

import (
	"fmt"
	"time"

	"github.com/viant/deferq/internal/codec"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/bitmap"
	"github.com/viant/deferq/policy"
)

// Kind discriminators stored in every record.
const (
	KindTaskQueue = "task_queue/v1"
	KindAuthority = "task_queue_authority/v1"
	KindName      = "task_queue_name/v1"
)

// TaskQueue is a capacity bounded queue of deferred tasks.
type TaskQueue struct {
	Kind           string          `cbor:"0,keyasint"`
	Address        address.Address `cbor:"1,keyasint"`
	Namespace      string          `cbor:"2,keyasint"`
	Name           string          `cbor:"3,keyasint"`
	Owner          address.Address `cbor:"4,keyasint"`
	Capacity       uint32          `cbor:"5,keyasint"`
	Bitmap         []byte          `cbor:"6,keyasint"`
	MinCrankReward uint64          `cbor:"7,keyasint"`
	StaleTaskAge   time.Duration   `cbor:"8,keyasint"`
	CreatedAt      time.Time       `cbor:"9,keyasint"`
	UpdatedAt      time.Time       `cbor:"10,keyasint"`
	// ReclaimAbandoned lets the executor free slots of abandoned tasks.
	ReclaimAbandoned bool `cbor:"11,keyasint"`
}

// Policy returns the executor policy recorded with the queue.
func (q *TaskQueue) Policy() *policy.Queue {
	return &policy.Queue{MinCrankReward: q.MinCrankReward, StaleTaskAge: q.StaleTaskAge, ReclaimAbandoned: q.ReclaimAbandoned}
}

// Slots returns the queue's bitmap.
func (q *TaskQueue) Slots() (*bitmap.Bitmap, error) {
	return bitmap.FromBytes(q.Bitmap, q.Capacity)
}

// Authority registers a principal allowed to enqueue into a queue.
type Authority struct {
	Kind      string          `cbor:"0,keyasint"`
	Address   address.Address `cbor:"1,keyasint"`
	Queue     address.Address `cbor:"2,keyasint"`
	Authority address.Address `cbor:"3,keyasint"`
	CreatedAt time.Time       `cbor:"4,keyasint"`
}

// Name resolves (namespace, name) to a queue address.
type Name struct {
	Kind      string          `cbor:"0,keyasint"`
	Namespace string          `cbor:"1,keyasint"`
	Name      string          `cbor:"2,keyasint"`
	Queue     address.Address `cbor:"3,keyasint"`
}

// Encode serialises a record.
func Encode(record any) ([]byte, error) {
	return codec.Marshal(record)
}

// DecodeTaskQueue parses a task queue record.
func DecodeTaskQueue(data []byte) (*TaskQueue, error) {
	ret := &TaskQueue{}
	if err := decode(data, ret, KindTaskQueue, func() string { return ret.Kind }); err != nil {
		return nil, err
	}
	if len(ret.Bitmap) != bitmap.SizeOf(ret.Capacity) {
		return nil, fmt.Errorf("queue: bitmap has %d bytes for capacity %d", len(ret.Bitmap), ret.Capacity)
	}
	return ret, nil
}

// DecodeAuthority parses a queue authority record.
func DecodeAuthority(data []byte) (*Authority, error) {
	ret := &Authority{}
	if err := decode(data, ret, KindAuthority, func() string { return ret.Kind }); err != nil {
		return nil, err
	}
	return ret, nil
}

// DecodeName parses a queue name record.
func DecodeName(data []byte) (*Name, error) {
	ret := &Name{}
	if err := decode(data, ret, KindName, func() string { return ret.Kind }); err != nil {
		return nil, err
	}
	return ret, nil
}

func decode(data []byte, target any, kind string, actual func() string) error {
	if err := codec.Unmarshal(data, target); err != nil {
		return fmt.Errorf("queue: decode %s: %w", kind, err)
	}
	if got := actual(); got != kind {
		return fmt.Errorf("queue: expected record kind %q, got %q", kind, got)
	}
	return nil
}
