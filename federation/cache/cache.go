// Package cache implements the bounded, content-hash-keyed caches sitting in
// front of parsing, validation, normalization, and planning. Every cache
// guarantees at-most-one concurrent build per key: concurrent misses for the
// same key share a single in-flight build via singleflight, so a thundering
// herd of identical queries triggers one parse/plan instead of N.
package cache

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// Hash computes the 64-bit content hash used to key every cache tier.
func Hash(parts ...string) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		d.WriteString(p)
		d.Write([]byte{0}) // separator so ("ab","c") and ("a","bc") don't collide
	}
	return d.Sum64()
}

type entry struct {
	key   uint64
	value any
}

// Cache is a bounded LRU keyed by uint64 content hash, with an at-most-one-build
// guarantee per key provided by an internal singleflight.Group.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[uint64]*list.Element
	order    *list.List // front = most recently used
	group    singleflight.Group
}

// New creates a Cache holding at most capacity entries.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[uint64]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the cached value for key, if present, promoting it to most-recently-used.
func (c *Cache) Get(key uint64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).value, true
}

// GetOrBuild returns the cached value for key, building it with build on a miss.
// Concurrent callers racing on the same key share the result of a single build
// call; build is never invoked more than once concurrently per key.
func (c *Cache) GetOrBuild(key uint64, build func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	// singleflight.Group keys are strings; a 64-bit hash rendered in hex is stable
	// and collision-equivalent to the uint64 key space it mirrors.
	groupKey := hashKey(key)
	v, err, _ := c.group.Do(groupKey, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return nil, err
		}
		c.put(key, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Cache) put(key uint64, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = value
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: key, value: value})
	c.items[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Invalidate drops every cached entry. Called on every schema hot-swap since all
// four tiers are keyed at least partly on schema identity.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[uint64]*list.Element, c.capacity)
	c.order.Init()
}

func hashKey(key uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[key&0xf]
		key >>= 4
	}
	return string(buf)
}
