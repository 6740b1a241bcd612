// Package store defines the account storage the task queue and delegation
// services persist to. Implementations must make Create atomic
// (create-if-absent), and Update and DeleteIf atomic per address; those
// guarantees settle allocation races and serialise delegation transitions.
package store

import (
	"context"
	"time"

	"github.com/viant/deferq/model/address"
)

// Account is a stored record.
type Account struct {
	Address   address.Address `json:"address"`
	Owner     address.Address `json:"owner"` // program that owns the record
	Data      []byte          `json:"data"`
	Version   uint64          `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	ret := *a
	ret.Data = append([]byte(nil), a.Data...)
	return &ret
}

// Mutator edits an account inside Update. Returning an error aborts the
// update and leaves the stored account untouched.
type Mutator func(account *Account) error

// Store persists accounts by address.
type Store interface {
	// Get returns a copy of the account or ErrNotFound.
	Get(ctx context.Context, addr address.Address) (*Account, error)

	// Create stores a new account, failing with ErrAlreadyExists when the
	// address is taken.
	Create(ctx context.Context, account *Account) error

	// Update applies fn atomically with respect to other writers of addr and
	// returns the stored result.
	Update(ctx context.Context, addr address.Address, fn Mutator) (*Account, error)

	// Delete removes the account or returns ErrNotFound.
	Delete(ctx context.Context, addr address.Address) error

	// DeleteIf removes the account when fn accepts it. fn runs atomically
	// with respect to other writers of addr; a returned error aborts the
	// delete and leaves the account untouched.
	DeleteIf(ctx context.Context, addr address.Address, fn Mutator) error

	// List returns accounts owned by owner; the zero address lists all.
	List(ctx context.Context, owner address.Address) ([]*Account, error)
}
