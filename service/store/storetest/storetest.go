// Package storetest holds the behaviour every store.Store implementation
// must satisfy.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/service/store"
)

// Run exercises a fresh store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()
	owner := address.Program("test")
	addr := address.Principal("record-1")

	t.Run("create get delete", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, addr)
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.Create(ctx, &store.Account{Address: addr, Owner: owner, Data: []byte("v1")}))
		got, err := s.Get(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got.Data)
		assert.EqualValues(t, 1, got.Version)

		err = s.Create(ctx, &store.Account{Address: addr, Owner: owner})
		assert.ErrorIs(t, err, store.ErrAlreadyExists)

		require.NoError(t, s.Delete(ctx, addr))
		assert.ErrorIs(t, s.Delete(ctx, addr), store.ErrNotFound)
	})

	t.Run("invalid input", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Create(ctx, nil), store.ErrNilEntity)
		assert.ErrorIs(t, s.Create(ctx, &store.Account{}), store.ErrInvalidAddress)
		_, err := s.Get(ctx, address.Address{})
		assert.ErrorIs(t, err, store.ErrInvalidAddress)
	})

	t.Run("update", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Update(ctx, addr, func(a *store.Account) error { return nil })
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.Create(ctx, &store.Account{Address: addr, Owner: owner, Data: []byte("v1")}))
		updated, err := s.Update(ctx, addr, func(a *store.Account) error {
			a.Data = append(a.Data, '!')
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("v1!"), updated.Data)
		assert.EqualValues(t, 2, updated.Version)

		abort := errors.New("abort")
		_, err = s.Update(ctx, addr, func(a *store.Account) error {
			a.Data = []byte("lost")
			return abort
		})
		assert.ErrorIs(t, err, abort)
		got, err := s.Get(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, []byte("v1!"), got.Data)
	})

	t.Run("delete if", func(t *testing.T) {
		s := newStore(t)
		err := s.DeleteIf(ctx, addr, func(a *store.Account) error { return nil })
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.Create(ctx, &store.Account{Address: addr, Owner: owner, Data: []byte("open")}))
		keep := errors.New("keep")
		err = s.DeleteIf(ctx, addr, func(a *store.Account) error {
			assert.Equal(t, []byte("open"), a.Data)
			return keep
		})
		assert.ErrorIs(t, err, keep)
		_, err = s.Get(ctx, addr)
		require.NoError(t, err)

		require.NoError(t, s.DeleteIf(ctx, addr, func(a *store.Account) error { return nil }))
		_, err = s.Get(ctx, addr)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete if observes concurrent updates", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, &store.Account{Address: addr, Owner: owner, Data: []byte("open")}))
		var wg sync.WaitGroup
		var deleted atomic.Bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Update(ctx, addr, func(a *store.Account) error {
				a.Data = []byte("locked")
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			err := s.DeleteIf(ctx, addr, func(a *store.Account) error {
				if string(a.Data) != "open" {
					return errors.New("locked")
				}
				return nil
			})
			deleted.Store(err == nil)
		}()
		wg.Wait()
		got, err := s.Get(ctx, addr)
		if deleted.Load() {
			assert.ErrorIs(t, err, store.ErrNotFound)
		} else {
			require.NoError(t, err)
			assert.Equal(t, []byte("locked"), got.Data)
		}
	})

	t.Run("returned copies are detached", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, &store.Account{Address: addr, Owner: owner, Data: []byte("abc")}))
		got, err := s.Get(ctx, addr)
		require.NoError(t, err)
		got.Data[0] = 'x'
		again, err := s.Get(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again.Data)
	})

	t.Run("list by owner", func(t *testing.T) {
		s := newStore(t)
		other := address.Program("other")
		require.NoError(t, s.Create(ctx, &store.Account{Address: address.Principal("a"), Owner: owner}))
		require.NoError(t, s.Create(ctx, &store.Account{Address: address.Principal("b"), Owner: owner}))
		require.NoError(t, s.Create(ctx, &store.Account{Address: address.Principal("c"), Owner: other}))
		mine, err := s.List(ctx, owner)
		require.NoError(t, err)
		assert.Len(t, mine, 2)
		all, err := s.List(ctx, address.Address{})
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("create has one winner", func(t *testing.T) {
		s := newStore(t)
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Create(ctx, &store.Account{Address: addr, Owner: owner}); err == nil {
					atomic.AddInt32(&wins, 1)
				} else {
					assert.ErrorIs(t, err, store.ErrAlreadyExists)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, wins)
	})
}
