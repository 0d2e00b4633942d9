package launch

import (
	"testing"
	"time"
)

func TestCachePutGetTake(t *testing.T) {
	c := NewInMemoryCache(0)

	if err := c.Put("state", "s1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := c.Get("state", "s1")
	if err != nil || !ok || string(got) != "v1" {
		t.Fatalf("get = %q, %v, %v", got, ok, err)
	}

	got, ok, _ = c.Take("state", "s1")
	if !ok || string(got) != "v1" {
		t.Fatalf("take = %q, %v", got, ok)
	}
	if _, ok, _ := c.Take("state", "s1"); ok {
		t.Fatal("second take returned a value")
	}
}

func TestCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewInMemoryCache(0)
	c.Now = func() time.Time { return now }

	_ = c.Put("launch", "l1", []byte("v"), time.Minute)
	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get("launch", "l1"); ok {
		t.Fatal("expired entry still readable")
	}
}

func TestCacheUseSingleUse(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewInMemoryCache(0)
	c.Now = func() time.Time { return now }

	ok, err := c.Use("nonce", "n1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first use = %v, %v", ok, err)
	}
	if ok, _ := c.Use("nonce", "n1", time.Minute); ok {
		t.Fatal("replay accepted")
	}

	// After expiry the value is fresh again.
	now = now.Add(2 * time.Minute)
	if ok, _ := c.Use("nonce", "n1", time.Minute); !ok {
		t.Fatal("expired nonce still considered used")
	}
}

func TestCacheRejectsEmptyKeys(t *testing.T) {
	c := NewInMemoryCache(0)
	if _, err := c.Use("", "v", time.Minute); err == nil {
		t.Error("empty kind accepted")
	}
	if err := c.Put("kind", " ", nil, time.Minute); err == nil {
		t.Error("blank key accepted")
	}
}
