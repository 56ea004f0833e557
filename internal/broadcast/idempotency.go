// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package broadcast

import (
	"container/list"
	"sync"
	"time"
)

// IdempotencyCache remembers the result of recently executed commands so a
// retried command (same idempotency key) is answered from cache instead of
// being executed twice. Entries expire after a TTL and the cache evicts the
// least recently used entry when full.
type IdempotencyCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List

	// now is swappable in tests.
	now func() time.Time
}

type idemEntry struct {
	key       string
	value     any
	expiresAt time.Time
}

// NewIdempotencyCache creates a cache holding at most capacity results, each
// valid for ttl.
func NewIdempotencyCache(capacity int, ttl time.Duration) *IdempotencyCache {
	if capacity <= 0 {
		capacity = 4096
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &IdempotencyCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached result for key, if present and not expired.
func (c *IdempotencyCache) Get(key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*idemEntry)
	if c.now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

// Put records the result for key, replacing any previous value and refreshing
// its TTL. An empty key is ignored.
func (c *IdempotencyCache) Put(key string, value any) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*idemEntry)
		entry.value = value
		entry.expiresAt = expires
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*idemEntry).key)
		}
	}
	c.entries[key] = c.order.PushFront(&idemEntry{key: key, value: value, expiresAt: expires})
}

// Len reports the number of cached entries, including not-yet-swept expired
// ones.
func (c *IdempotencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
