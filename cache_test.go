package restate

import (
	"testing"
)

func TestTypeSafeCache_LoadStoreDelete(t *testing.T) {
	cache := NewTypeSafeCache[int]()

	if _, ok := cache.Load("missing"); ok {
		t.Fatal("empty cache reported a hit")
	}

	cache.Store("a", 1)
	cache.Store("b", 2)

	v, ok := cache.Load("a")
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}
	if cache.Size() != 2 {
		t.Fatalf("expected size 2, got %d", cache.Size())
	}

	cache.Delete("a")
	if _, ok := cache.Load("a"); ok {
		t.Fatal("deleted key still present")
	}
}

func TestTypeSafeCache_RangeAndClear(t *testing.T) {
	cache := NewTypeSafeCache[string]()
	cache.Store(1, "one")
	cache.Store(2, "two")

	seen := map[CacheKey]string{}
	cache.Range(func(key CacheKey, value string) bool {
		seen[key] = value
		return true
	})
	if len(seen) != 2 || seen[1] != "one" || seen[2] != "two" {
		t.Fatalf("range mismatch: %v", seen)
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Fatalf("expected empty cache after clear, got %d", cache.Size())
	}
}

func TestTag_TypedAccess(t *testing.T) {
	version := NewTag[string]("version")
	pool := NewTag[int]("pool")

	spec := NewSpec("svc", nil, nil)
	version.Set(spec, "1.2.3")

	got, ok := version.Get(spec)
	if !ok || got != "1.2.3" {
		t.Fatalf("expected (1.2.3, true), got (%q, %v)", got, ok)
	}

	if _, ok := pool.Get(spec); ok {
		t.Fatal("unset tag reported present")
	}
	if d := pool.GetOrDefault(spec, 8); d != 8 {
		t.Fatalf("expected default 8, got %d", d)
	}
	if version.MustGet(spec) != "1.2.3" {
		t.Fatal("MustGet mismatch")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("MustGet on missing tag should panic")
		}
	}()
	pool.MustGet(spec)
}
