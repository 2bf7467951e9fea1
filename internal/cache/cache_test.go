package cache

import (
	"testing"
	"time"
)

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touch a so b becomes the eviction candidate.
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v", v, ok)
	}

	c.Set("c", 3)
	if _, ok := c.Get("b"); ok {
		t.Error("b survived eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a was evicted despite recent use")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c missing")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestCacheExpiry(t *testing.T) {
	c := New[string, string](4, time.Minute)
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Set("page", "content")
	if _, ok := c.Get("page"); !ok {
		t.Fatal("fresh entry missing")
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := c.Get("page"); ok {
		t.Error("expired entry still served")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after lazy expiry, want 0", c.Len())
	}
}

func TestCacheSetRefreshesExpiry(t *testing.T) {
	c := New[string, string](4, time.Minute)
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Set("page", "v1")
	c.now = func() time.Time { return base.Add(50 * time.Second) }
	c.Set("page", "v2")

	c.now = func() time.Time { return base.Add(90 * time.Second) }
	v, ok := c.Get("page")
	if !ok || v != "v2" {
		t.Errorf("Get = %q, %v; want refreshed v2", v, ok)
	}
}

func TestCacheDelete(t *testing.T) {
	c := New[string, int](2, time.Hour)
	c.Set("a", 1)
	c.Delete("a")
	c.Delete("missing")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still present")
	}
}
