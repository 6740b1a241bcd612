package store

import "errors"

// Common storage errors. Sentinel variables let callers detect conditions
// via errors.Is instead of comparing strings.
var (
	// ErrNotFound is returned when no account lives at the address.
	ErrNotFound = errors.New("store: account not found")

	// ErrAlreadyExists is returned by Create when the address is already
	// initialised. It is the storage layer's create-if-absent guarantee.
	ErrAlreadyExists = errors.New("store: account already exists")

	// ErrInvalidAddress indicates a zero address.
	ErrInvalidAddress = errors.New("store: invalid address")

	// ErrNilEntity is returned when the caller passes a nil account.
	ErrNilEntity = errors.New("store: nil account")
)
