// Package fault defines the error taxonomy shared by the task queue and the
// delegation state machine. Every error carries the operation and the
// queue or account it concerns, and its Kind tells the caller whether a
// retry can succeed.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindQueueAlreadyExists     Kind = "QueueAlreadyExists"
	KindQueueFull              Kind = "QueueFull"
	KindUnauthorizedAuthority  Kind = "UnauthorizedAuthority"
	KindSlotNotOccupied        Kind = "SlotNotOccupied"
	KindSlotAlreadyOccupied    Kind = "SlotAlreadyOccupied"
	KindMalformedRecord        Kind = "MalformedRecord"
	KindUnsupportedTrigger     Kind = "UnsupportedTrigger"
	KindIllegalStateTransition Kind = "IllegalStateTransition"
	KindSettlementNotFinalized Kind = "SettlementNotFinalized"
)

// Sentinels usable with errors.Is.
var (
	ErrQueueAlreadyExists     = &sentinel{KindQueueAlreadyExists}
	ErrQueueFull              = &sentinel{KindQueueFull}
	ErrUnauthorizedAuthority  = &sentinel{KindUnauthorizedAuthority}
	ErrSlotNotOccupied        = &sentinel{KindSlotNotOccupied}
	ErrSlotAlreadyOccupied    = &sentinel{KindSlotAlreadyOccupied}
	ErrMalformedRecord        = &sentinel{KindMalformedRecord}
	ErrUnsupportedTrigger     = &sentinel{KindUnsupportedTrigger}
	ErrIllegalStateTransition = &sentinel{KindIllegalStateTransition}
	ErrSettlementNotFinalized = &sentinel{KindSettlementNotFinalized}
)

type sentinel struct{ kind Kind }

func (s *sentinel) Error() string { return string(s.kind) }

// Error is a classified failure.
type Error struct {
	Kind     Kind
	Op       string // attempted operation, e.g. "enqueue"
	Resource string // queue or account identifier
	Err      error  // underlying cause, may be nil
}

// New returns a classified error for op on resource.
func New(kind Kind, op, resource string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Resource: resource, Err: cause}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, resource, format string, args ...any) *Error {
	return New(kind, op, resource, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Resource, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind. SettlementNotFinalized also
// matches IllegalStateTransition: it is the transient form of that error
// reported while an undelegation has not settled yet.
func (e *Error) Is(target error) bool {
	s, ok := target.(*sentinel)
	if !ok {
		return false
	}
	if s.kind == e.Kind {
		return true
	}
	return e.Kind == KindSettlementNotFinalized && s.kind == KindIllegalStateTransition
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	var s *sentinel
	if errors.As(err, &s) {
		return s.kind, true
	}
	return "", false
}

// Retryable reports whether retrying the failed call can succeed once the
// shared state changes.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindQueueFull, KindSlotAlreadyOccupied, KindSettlementNotFinalized:
		return true
	}
	return false
}
