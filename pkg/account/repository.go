package account

import "context"

// Repository caches the linked account of a host installation between flow
// instances. Load returns serviceerr.ErrNotFound when nothing is cached.
type Repository interface {
	Load(ctx context.Context, key string) (Snapshot, error)
	Store(ctx context.Context, key string, snapshot Snapshot) error
	Delete(ctx context.Context, key string) error
}

// Cache binds a Repository to one key.
type Cache struct {
	repo Repository
	key  string
}

func NewCache(repo Repository, key string) *Cache {
	return &Cache{repo: repo, key: key}
}

func (c *Cache) Load(ctx context.Context) (Snapshot, error) {
	return c.repo.Load(ctx, c.key)
}

func (c *Cache) Store(ctx context.Context, snapshot Snapshot) error {
	return c.repo.Store(ctx, c.key, snapshot)
}

// Clear drops the cached account.
func (c *Cache) Clear(ctx context.Context) error {
	return c.repo.Delete(ctx, c.key)
}
