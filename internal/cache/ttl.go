package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL is how long entries stay valid unless configured otherwise.
const DefaultTTL = 24 * time.Hour

// TTL is a concurrency-safe key/value store whose entries expire a fixed
// duration after they were written. Reads never extend an entry's life, and
// expired entries are treated as absent even before a sweep removes them.
type TTL[K comparable, V any] struct {
	items *ttlcache.Cache[K, V]
	ttl   time.Duration
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	maxEntries uint64
}

// WithMaxEntries bounds the cache; the least recently used entry is evicted
// on overflow. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntries = uint64(n)
		}
	}
}

// New returns an empty cache whose entries live for ttl. A non-positive ttl
// falls back to DefaultTTL.
func New[K comparable, V any](ttl time.Duration, opts ...Option) *TTL[K, V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	cacheOpts := []ttlcache.Option[K, V]{
		ttlcache.WithTTL[K, V](ttl),
		ttlcache.WithDisableTouchOnHit[K, V](),
	}
	if o.maxEntries > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[K, V](o.maxEntries))
	}

	return &TTL[K, V]{
		items: ttlcache.New[K, V](cacheOpts...),
		ttl:   ttl,
	}
}

// TTL returns the lifetime given to entries stored with Put.
func (c *TTL[K, V]) TTL() time.Duration { return c.ttl }

// Get returns the value for key if present and not older than the TTL.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	item := c.items.Get(key)
	if item == nil {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Put stores value under key, replacing any previous entry and restarting its
// lifetime.
func (c *TTL[K, V]) Put(key K, value V) {
	c.items.Set(key, value, ttlcache.DefaultTTL)
}

// PutFor stores value with a lifetime of ttl instead of the cache default.
// A non-positive ttl stores nothing.
func (c *TTL[K, V]) PutFor(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.items.Set(key, value, ttl)
}

// Find returns the first live entry matching pred. It is a linear scan.
func (c *TTL[K, V]) Find(pred func(K, V) bool) (K, V, bool) {
	var (
		fk    K
		fv    V
		found bool
	)
	c.items.Range(func(item *ttlcache.Item[K, V]) bool {
		if item.IsExpired() || !pred(item.Key(), item.Value()) {
			return true
		}
		fk, fv, found = item.Key(), item.Value(), true
		return false
	})
	return fk, fv, found
}

// Snapshot copies all live entries.
func (c *TTL[K, V]) Snapshot() map[K]V {
	items := c.items.Items()
	out := make(map[K]V, len(items))
	for k, item := range items {
		out[k] = item.Value()
	}
	return out
}

// Len counts live entries.
func (c *TTL[K, V]) Len() int {
	return c.items.Len()
}

// Sweep removes expired entries.
func (c *TTL[K, V]) Sweep() {
	c.items.DeleteExpired()
}

// StartJanitor sweeps every interval until ctx is done.
func (c *TTL[K, V]) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Sweep()
			}
		}
	}()
}
