package store

import (
	"context"
	"sync"

	"github.com/go-gorm/caches/v4"
)

// memoryCacher is an in-process implementation of caches.Cacher, caching
// artifact list/get query results for the lifetime of the process. The
// artifact store is embedded (single daemon, single sqlite file), so there
// is no cross-instance invalidation to worry about — every write path goes
// through this same process and Invalidate is called on schema changes.
type memoryCacher struct {
	store sync.Map
}

func newMemoryCacher() *memoryCacher { return &memoryCacher{} }

func (c *memoryCacher) Get(ctx context.Context, key string, q *caches.Query[any]) (*caches.Query[any], error) {
	val, ok := c.store.Load(key)
	if !ok {
		return nil, nil
	}
	cached, ok := val.(*caches.Query[any])
	if !ok {
		return nil, nil
	}
	return cached, nil
}

func (c *memoryCacher) Store(ctx context.Context, key string, val *caches.Query[any]) error {
	c.store.Store(key, val)
	return nil
}

func (c *memoryCacher) Invalidate(ctx context.Context) error {
	c.store = sync.Map{}
	return nil
}

// cachesPlugin returns a gorm plugin caching SELECT results for the
// artifact catalogue, reducing repeat-read cost for List/Get under
// read-heavy monitor dashboards.
func cachesPlugin() *caches.Caches {
	return &caches.Caches{Conf: &caches.Config{Cacher: newMemoryCacher()}}
}
