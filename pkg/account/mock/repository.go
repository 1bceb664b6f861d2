package mock

import (
	"context"
	"sync"

	"github.com/openkcm/link-checkout/internal/serviceerr"
	"github.com/openkcm/link-checkout/pkg/account"
)

type RepositoryOption func(*Repository)

type Repository struct {
	mu       sync.Mutex
	accounts map[string]account.Snapshot

	loadErr, storeErr, deleteErr error
}

func WithAccount(key string, snap account.Snapshot) RepositoryOption {
	return func(r *Repository) { r.accounts[key] = snap }
}
func WithLoadError(err error) RepositoryOption {
	return func(r *Repository) { r.loadErr = err }
}
func WithStoreError(err error) RepositoryOption {
	return func(r *Repository) { r.storeErr = err }
}
func WithDeleteError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteErr = err }
}

var _ = account.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		accounts: make(map[string]account.Snapshot),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Repository) Load(_ context.Context, key string) (account.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loadErr != nil {
		return account.Snapshot{}, r.loadErr
	}
	if snap, ok := r.accounts[key]; ok {
		return snap, nil
	}
	return account.Snapshot{}, serviceerr.ErrNotFound
}

func (r *Repository) Store(_ context.Context, key string, snap account.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeErr != nil {
		return r.storeErr
	}
	r.accounts[key] = snap
	return nil
}

func (r *Repository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.accounts, key)
	return nil
}

// TGet returns the cached account without error injection, for assertions.
func (r *Repository) TGet(key string) (account.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, ok := r.accounts[key]
	return snap, ok
}
