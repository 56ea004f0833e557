// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package broadcast

import (
	"fmt"
	"testing"
	"time"
)

func TestIdempotencyCacheHitAndMiss(t *testing.T) {
	c := NewIdempotencyCache(16, time.Minute)

	if _, ok := c.Get("k1"); ok {
		t.Fatal("hit on empty cache")
	}

	c.Put("k1", "result-1")
	got, ok := c.Get("k1")
	if !ok || got != "result-1" {
		t.Fatalf("Get(k1) = %v, %v; want result-1, true", got, ok)
	}

	// Overwrite replaces the value.
	c.Put("k1", "result-2")
	if got, _ := c.Get("k1"); got != "result-2" {
		t.Errorf("Get(k1) after overwrite = %v, want result-2", got)
	}
}

func TestIdempotencyCacheIgnoresEmptyKey(t *testing.T) {
	c := NewIdempotencyCache(16, time.Minute)
	c.Put("", "x")
	if c.Len() != 0 {
		t.Errorf("Len = %d after empty-key Put, want 0", c.Len())
	}
	if _, ok := c.Get(""); ok {
		t.Error("hit for empty key")
	}
}

func TestIdempotencyCacheTTLExpiry(t *testing.T) {
	c := NewIdempotencyCache(16, time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Put("k1", "v")
	c.now = func() time.Time { return base.Add(59 * time.Second) }
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("entry expired before TTL")
	}

	c.now = func() time.Time { return base.Add(61 * time.Second) }
	if _, ok := c.Get("k1"); ok {
		t.Fatal("entry alive past TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, Len = %d", c.Len())
	}
}

func TestIdempotencyCacheEvictsLRU(t *testing.T) {
	c := NewIdempotencyCache(3, time.Minute)
	for i := 1; i <= 3; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}

	// Touch k1 so k2 becomes the least recently used.
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("k1 missing")
	}

	c.Put("k4", 4)
	if _, ok := c.Get("k2"); ok {
		t.Error("k2 survived eviction, want LRU evicted")
	}
	for _, key := range []string{"k1", "k3", "k4"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s evicted, want retained", key)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}
