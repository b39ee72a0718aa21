package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTTLCache[int]()
	c.now = func() time.Time { return now }

	c.Set("a", 1, time.Minute)
	c.Set("forever", 2, 0)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("entry should have expired")
	}
	if v, ok := c.Get("forever"); !ok || v != 2 {
		t.Fatalf("zero ttl should never expire")
	}
}

func TestTTLCachePurge(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTTLCache[string]()
	c.now = func() time.Time { return now }
	c.Set("a", "x", time.Second)
	c.Set("b", "y", time.Hour)
	now = now.Add(time.Minute)
	if n := c.Purge(); n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
	c.Delete("b")
	if _, ok := c.Get("b"); ok {
		t.Fatalf("deleted key still present")
	}
}
