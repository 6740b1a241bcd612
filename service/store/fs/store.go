package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/service/store"
)

const (
	staleLockAge   = 30 * time.Second
	lockRetryDelay = 2 * time.Millisecond
)

// Store implements a filesystem-based store.Store, one JSON file per
// address. On a local directory the store is safe across processes: Create
// writes a temporary file and hard-links it into place, which fails when the
// address is taken, and Update, Delete and DeleteIf hold a per-address lock
// file. Other afs schemes are atomic within one process only.
type Store struct {
	basePath string
	fs       afs.Service
	mu       sync.Mutex
}

var _ store.Store = (*Store)(nil)

// New creates a store rooted at basePath, creating the directory when
// missing. basePath may be any afs URL (file path, mem://, ...).
func New(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	fs := afs.New()
	ctx := context.Background()
	exists, _ := fs.Exists(ctx, basePath)
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	return &Store{basePath: url.Normalize(basePath, file.Scheme), fs: fs}, nil
}

// Get loads an account.
func (s *Store) Get(ctx context.Context, addr address.Address) (*store.Account, error) {
	if addr.IsZero() {
		return nil, store.ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, addr)
}

// Create writes a new account if its file does not exist.
func (s *Store) Create(ctx context.Context, account *store.Account) error {
	if account == nil {
		return store.ErrNilEntity
	}
	if account.Address.IsZero() {
		return store.ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := account.Clone()
	stored.Version = 1
	stored.UpdatedAt = clock.Now().UTC()
	if s.isLocal() {
		return s.createLocal(stored)
	}
	exists, err := s.fs.Exists(ctx, s.accountPath(account.Address))
	if err != nil {
		return fmt.Errorf("failed to check if account exists: %w", err)
	}
	if exists {
		return store.ErrAlreadyExists
	}
	return s.save(ctx, stored)
}

// createLocal publishes the record with a hard link so that exactly one of
// several processes creating the same address succeeds.
func (s *Store) createLocal(account *store.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	target := url.Path(s.accountPath(account.Address))
	temp, err := os.CreateTemp(filepath.Dir(target), ".create-*")
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", account.Address, err)
	}
	defer os.Remove(temp.Name())
	_, err = temp.Write(data)
	if closeErr := temp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write account %s: %w", account.Address, err)
	}
	if err = os.Link(temp.Name(), target); err != nil {
		if errors.Is(err, os.ErrExist) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create account %s: %w", account.Address, err)
	}
	return nil
}

// Update loads, mutates and rewrites an account under the store lock.
func (s *Store) Update(ctx context.Context, addr address.Address, fn store.Mutator) (*store.Account, error) {
	if addr.IsZero() {
		return nil, store.ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lock(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer unlock()
	current, err := s.load(ctx, addr)
	if err != nil {
		return nil, err
	}
	version := current.Version
	if err = fn(current); err != nil {
		return nil, err
	}
	current.Address = addr
	current.Version = version + 1
	current.UpdatedAt = clock.Now().UTC()
	if err = s.save(ctx, current); err != nil {
		return nil, err
	}
	return current.Clone(), nil
}

// Delete removes the account file.
func (s *Store) Delete(ctx context.Context, addr address.Address) error {
	if addr.IsZero() {
		return store.ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lock(ctx, addr)
	if err != nil {
		return err
	}
	defer unlock()
	filePath := s.accountPath(addr)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if account exists: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	if err = s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete account file: %w", err)
	}
	return nil
}

// DeleteIf removes the account file when fn accepts the stored record.
func (s *Store) DeleteIf(ctx context.Context, addr address.Address, fn store.Mutator) error {
	if addr.IsZero() {
		return store.ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lock(ctx, addr)
	if err != nil {
		return err
	}
	defer unlock()
	current, err := s.load(ctx, addr)
	if err != nil {
		return err
	}
	if err = fn(current); err != nil {
		return err
	}
	if err = s.fs.Delete(ctx, s.accountPath(addr)); err != nil {
		return fmt.Errorf("failed to delete account file: %w", err)
	}
	return nil
}

// List reads every account file and filters by owner.
func (s *Store) List(ctx context.Context, owner address.Address) ([]*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	objects, err := s.fs.List(ctx, s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list account files: %w", err)
	}
	var ret []*store.Account
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			return nil, fmt.Errorf("failed to read account file %s: %w", object.URL(), err)
		}
		account := &store.Account{}
		if err := json.Unmarshal(data, account); err != nil {
			return nil, fmt.Errorf("failed to unmarshal account from %s: %w", object.URL(), err)
		}
		if !owner.IsZero() && account.Owner != owner {
			continue
		}
		ret = append(ret, account)
	}
	return ret, nil
}

func (s *Store) load(ctx context.Context, addr address.Address) (*store.Account, error) {
	filePath := s.accountPath(addr)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if account exists: %w", err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read account file: %w", err)
	}
	account := &store.Account{}
	if err := json.Unmarshal(data, account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account %s: %w", addr, err)
	}
	return account, nil
}

func (s *Store) save(ctx context.Context, account *store.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	filePath := s.accountPath(account.Address)
	if err = s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save account to file %s: %w", filePath, err)
	}
	return nil
}

// lock takes the per-address lock file of a local store. A lock file older
// than staleLockAge is left over by a crashed process and is broken.
func (s *Store) lock(ctx context.Context, addr address.Address) (func(), error) {
	if !s.isLocal() {
		return func() {}, nil
	}
	lockPath := url.Path(s.accountPath(addr)) + ".lock"
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, file.DefaultFileOsMode)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to lock account %s: %w", addr, err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			_ = os.Remove(lockPath)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to lock account %s: %w", addr, ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}
}

func (s *Store) isLocal() bool {
	return url.Scheme(s.basePath, file.Scheme) == file.Scheme
}

func (s *Store) accountPath(addr address.Address) string {
	return url.Join(s.basePath, addr.String()+".json")
}
