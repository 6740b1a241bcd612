// Package crank is the executor of due tasks. A scanner polls the watched
// queues, hands each due task to a worker pool through a messaging queue,
// and the workers submit the task's compiled instructions to the ledger.
//
// A confirmed or terminally failed execution releases the slot. Transient
// submission failures keep the slot occupied and are retried until the
// queue's stale age is exceeded; the task is then abandoned, and its slot
// is reclaimed only when the queue owner's policy says so.
package crank
