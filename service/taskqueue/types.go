package taskqueue

import (
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/task"
)

// EnqueueRequest describes a task to enqueue.
type EnqueueRequest struct {
	Queue       address.Address
	Authority   address.Address
	Trigger     task.Trigger
	CrankReward uint64 // zero means the queue minimum
	Description string
	// Instructions is the compiled instruction container, stored verbatim.
	Instructions []byte
}

// Enqueued is the payload of task.enqueued events.
type Enqueued struct {
	Ref       task.Ref
	Authority address.Address
	Trigger   string
}

// Released is the payload of slot.released events.
type Released struct {
	Queue     address.Address
	Slot      uint16
	Reclaimed bool
}
