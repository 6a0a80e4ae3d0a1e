package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TTL is a read-through cache for values that change rarely, like per-role
// registration configs. Writers call Delete after a successful update.
type TTL[V any] struct {
	ttl    time.Duration
	now    func() time.Time
	loads  singleflight.Group
	mu     sync.RWMutex
	values map[string]entry[V]
}

type entry[V any] struct {
	val     V
	expires time.Time
}

func New[V any](ttl time.Duration) *TTL[V] {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &TTL[V]{ttl: ttl, now: time.Now, values: make(map[string]entry[V])}
}

func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.values[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.val, true
}

func (c *TTL[V]) Set(key string, val V) {
	c.mu.Lock()
	c.values[key] = entry[V]{val: val, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete drops key and detaches any load in flight for it, so the next reader
// sees the write that triggered the delete.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
	c.loads.Forget(key)
}

// GetOrLoad returns the cached value or runs load, sharing one call between
// concurrent misses on the same key. Errors are never cached.
func (c *TTL[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.loads.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err == nil {
			c.Set(key, v)
		}
		return v, err
	})
	v, _ := res.(V)
	return v, err
}
