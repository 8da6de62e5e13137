package pkgcache

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "packages.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTouchThenLookup(t *testing.T) {
	c := openTestCache(t)
	now := time.Now()

	if err := c.Touch("cid1", "tracer", 1024, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, found, err := c.Lookup("cid1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatalf("expected entry to be found")
	}
	if entry.ObjName != "tracer" || entry.OpenCount != 1 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestTouchIncrementsOpenCount(t *testing.T) {
	c := openTestCache(t)
	now := time.Now()

	_ = c.Touch("cid1", "tracer", 1024, now)
	_ = c.Touch("cid1", "tracer", 1024, now.Add(time.Minute))

	entry, _, err := c.Lookup("cid1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.OpenCount != 2 {
		t.Fatalf("expected open_count 2, got %d", entry.OpenCount)
	}
}

func TestLookupMissingReturnsNotFound(t *testing.T) {
	c := openTestCache(t)
	_, found, err := c.Lookup("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
}

func TestAllListsEveryEntry(t *testing.T) {
	c := openTestCache(t)
	_ = c.Touch("cid1", "a", 10, time.Now())
	_ = c.Touch("cid2", "b", 20, time.Now())

	entries, err := c.All()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
