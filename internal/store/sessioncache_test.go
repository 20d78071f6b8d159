package store

import (
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T) *SessionCache {
	t.Helper()
	c, err := OpenSessionCache(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSessionCache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSessionCacheRoundTrip(t *testing.T) {
	c := openTestCache(t)

	id, title, err := c.Load()
	if err != nil {
		t.Fatalf("Load on empty cache: %v", err)
	}
	if id != "" || title != "" {
		t.Errorf("empty cache returned %q/%q", id, title)
	}

	if err := c.Save("s1", "Messaging bridge"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	id, title, err = c.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id != "s1" || title != "Messaging bridge" {
		t.Errorf("Load = %q/%q, want s1/Messaging bridge", id, title)
	}
}

func TestSessionCacheSaveOverwrites(t *testing.T) {
	c := openTestCache(t)

	if err := c.Save("s1", "first"); err != nil {
		t.Fatal(err)
	}
	if err := c.Save("s2", "second"); err != nil {
		t.Fatal(err)
	}
	id, title, err := c.Load()
	if err != nil {
		t.Fatal(err)
	}
	if id != "s2" || title != "second" {
		t.Errorf("Load = %q/%q, want s2/second", id, title)
	}
}

func TestSessionCacheClear(t *testing.T) {
	c := openTestCache(t)

	if err := c.Save("s1", "title"); err != nil {
		t.Fatal(err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	id, _, err := c.Load()
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("Load after Clear = %q, want empty", id)
	}
}
