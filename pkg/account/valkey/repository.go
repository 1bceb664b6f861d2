package accountvalkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/link-checkout/pkg/account"
)

type ObjectType string

const objectTypeAccount ObjectType = "account"

var (
	ErrGetAccount   = errors.New("getting account from store")
	ErrStoreAccount = errors.New("setting account into storage")
	ErrDelAccount   = errors.New("deleting account from store")
)

type Repository struct {
	store *store
	ttl   time.Duration
}

var _ = account.Repository(&Repository{})

// NewRepository returns an account cache on valkey. Keys expire after ttl;
// a zero ttl keeps them until deleted.
func NewRepository(valkeyClient valkey.Client, prefix string, ttl time.Duration) *Repository {
	return &Repository{
		store: newStore(valkeyClient, prefix),
		ttl:   ttl,
	}
}

func (r *Repository) Load(ctx context.Context, key string) (account.Snapshot, error) {
	var snap account.Snapshot
	if err := r.store.Get(ctx, objectTypeAccount, key, &snap); err != nil {
		return account.Snapshot{}, errors.Join(ErrGetAccount, err)
	}

	if err := snap.Validate(); err != nil {
		return account.Snapshot{}, fmt.Errorf("validating cached account: %w", err)
	}

	return snap, nil
}

func (r *Repository) Store(ctx context.Context, key string, snap account.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("validating account: %w", err)
	}

	if err := r.store.Set(ctx, objectTypeAccount, key, snap, r.ttl); err != nil {
		return errors.Join(ErrStoreAccount, err)
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context, key string) error {
	if err := r.store.Destroy(ctx, objectTypeAccount, key); err != nil {
		return errors.Join(ErrDelAccount, err)
	}

	return nil
}
