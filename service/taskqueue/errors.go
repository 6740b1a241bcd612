package taskqueue

import "errors"

var (
	// ErrCrankRewardTooLow is returned when a task offers less than the queue minimum.
	ErrCrankRewardTooLow = errors.New("crank reward below queue minimum")
	// ErrInvalidCapacity is returned for a zero capacity or one above MaxCapacity.
	ErrInvalidCapacity = errors.New("invalid queue capacity")
	// ErrInvalidTrigger is returned for a trigger missing its required fields.
	ErrInvalidTrigger = errors.New("invalid trigger")
	// ErrReclaimDisabled is returned by ReclaimAbandoned when the queue policy
	// keeps abandoned tasks in their slots.
	ErrReclaimDisabled = errors.New("queue does not reclaim abandoned tasks")
)

// errBitTaken aborts the bitmap update when the chosen slot was set meanwhile.
var errBitTaken = errors.New("slot bit already set")
