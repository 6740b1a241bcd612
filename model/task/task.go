// Package task holds the deferred unit of work stored at a queue slot and
// the fixed-layout codec used to persist it.
package task

import (
	"time"

	"github.com/viant/deferq/model/address"
)

// Task is a deferred unit of work occupying one slot of a queue. Its
// location is derived from (Queue, Slot), never stored separately.
type Task struct {
	Queue        address.Address
	Slot         uint16
	Trigger      Trigger
	CrankReward  uint64
	QueuedAt     int64 // unix seconds
	Description  string
	Instructions []byte // compiled instruction container, opaque here; empty decodes as nil
}

// Address returns the derived address of the task record.
func (t *Task) Address() address.Address {
	return address.Task(t.Queue, t.Slot)
}

// Ref returns the reference handed back to the enqueuing caller.
func (t *Task) Ref() Ref {
	return Ref{Queue: t.Queue, Slot: t.Slot, Address: t.Address()}
}

// QueuedTime returns QueuedAt as time.Time.
func (t *Task) QueuedTime() time.Time { return time.Unix(t.QueuedAt, 0) }

// IsDue reports whether the trigger is satisfied at now.
func (t *Task) IsDue(now time.Time) bool {
	return t.Trigger.IsDue(t.QueuedTime(), now)
}

// Ref identifies a live task.
type Ref struct {
	Queue   address.Address
	Slot    uint16
	Address address.Address
}
