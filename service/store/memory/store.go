package memory

import (
	"context"
	"sync"

	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/service/store"
)

// Store is an in-memory, thread-safe store.Store. All methods work with
// copies so callers never share buffers with the stored records.
type Store struct {
	mu       sync.RWMutex
	accounts map[address.Address]*store.Account
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{accounts: map[address.Address]*store.Account{}}
}

// Get returns a copy of the account.
func (s *Store) Get(_ context.Context, addr address.Address) (*store.Account, error) {
	if addr.IsZero() {
		return nil, store.ErrInvalidAddress
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[addr]
	if !ok {
		return nil, store.ErrNotFound
	}
	return account.Clone(), nil
}

// Create stores a copy of account if its address is free.
func (s *Store) Create(_ context.Context, account *store.Account) error {
	if account == nil {
		return store.ErrNilEntity
	}
	if account.Address.IsZero() {
		return store.ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.Address]; ok {
		return store.ErrAlreadyExists
	}
	stored := account.Clone()
	stored.Version = 1
	stored.UpdatedAt = clock.Now().UTC()
	s.accounts[account.Address] = stored
	return nil
}

// Update applies fn under the store lock.
func (s *Store) Update(_ context.Context, addr address.Address, fn store.Mutator) (*store.Account, error) {
	if addr.IsZero() {
		return nil, store.ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.accounts[addr]
	if !ok {
		return nil, store.ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Address = addr
	working.Version = current.Version + 1
	working.UpdatedAt = clock.Now().UTC()
	s.accounts[addr] = working
	return working.Clone(), nil
}

// Delete removes an account.
func (s *Store) Delete(_ context.Context, addr address.Address) error {
	if addr.IsZero() {
		return store.ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[addr]; !ok {
		return store.ErrNotFound
	}
	delete(s.accounts, addr)
	return nil
}

// DeleteIf removes an account accepted by fn under the store lock.
func (s *Store) DeleteIf(_ context.Context, addr address.Address, fn store.Mutator) error {
	if addr.IsZero() {
		return store.ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.accounts[addr]
	if !ok {
		return store.ErrNotFound
	}
	if err := fn(current.Clone()); err != nil {
		return err
	}
	delete(s.accounts, addr)
	return nil
}

// List returns copies of accounts owned by owner.
func (s *Store) List(_ context.Context, owner address.Address) ([]*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		if !owner.IsZero() && account.Owner != owner {
			continue
		}
		out = append(out, account.Clone())
	}
	return out, nil
}
