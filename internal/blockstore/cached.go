package blockstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/golang/groupcache/lru"

	"dagtree/internal/hash"
)

// Cached keeps recently read and written blocks in an LRU in front of
// another store. Exporting a large DAG re-reads interior nodes often.
type Cached struct {
	Store

	mu    sync.Mutex
	cache *lru.Cache
}

// NewCached wraps store with an LRU of at most entries blocks.
func NewCached(store Store, entries int) *Cached {
	return &Cached{Store: store, cache: lru.New(entries)}
}

func (c *Cached) Put(ctx context.Context, id hash.ID, data []byte) error {
	if err := c.Store.Put(ctx, id, data); err != nil {
		return err
	}
	c.add(id, data)
	return nil
}

func (c *Cached) Get(ctx context.Context, id hash.ID) ([]byte, error) {
	c.mu.Lock()
	cached, ok := c.cache.Get(id)
	c.mu.Unlock()
	if ok {
		return bytes.Clone(cached.([]byte)), nil
	}

	data, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.add(id, data)
	return data, nil
}

func (c *Cached) Has(ctx context.Context, id hash.ID) (bool, error) {
	c.mu.Lock()
	_, ok := c.cache.Get(id)
	c.mu.Unlock()
	if ok {
		return true, nil
	}
	return c.Store.Has(ctx, id)
}

func (c *Cached) add(id hash.ID, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(id, bytes.Clone(data))
}
