// Package taskqueue manages capacity bounded task queues: queue creation and
// name lookup, enqueue authorities, slot allocation and release.
//
// Slot allocation reads the queue bitmap, picks the lowest free slot and
// claims the task record at the slot's derived address with an atomic
// create. Two callers that pick the same slot therefore have exactly one
// winner; the loser receives fault.ErrSlotAlreadyOccupied and is expected
// to retry against a fresh bitmap. Enqueue never retries internally.
package taskqueue
