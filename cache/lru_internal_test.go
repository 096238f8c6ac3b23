package cache

import (
	"testing"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/engine"
)

func testChecksum(b byte) contractvm.Checksum {
	var c contractvm.Checksum
	c[0] = b
	return c
}

func moduleOfSize(n int) *engine.Module {
	return &engine.Module{Wasm: make([]byte, n)}
}

func TestLRUEvictsByBytes(t *testing.T) {
	c := newLRU(100)
	c.Put(testChecksum(1), moduleOfSize(40))
	c.Put(testChecksum(2), moduleOfSize(40))
	if c.Len() != 2 || c.SizeBytes() != 80 {
		t.Fatalf("len=%d size=%d", c.Len(), c.SizeBytes())
	}

	// 40+40+40 > 100: the oldest entry must go.
	c.Put(testChecksum(3), moduleOfSize(40))
	if c.Len() != 2 {
		t.Fatalf("len=%d after eviction", c.Len())
	}
	if _, ok := c.Get(testChecksum(1)); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get(testChecksum(3)); !ok {
		t.Error("newest entry missing")
	}
}

func TestLRUGetRefreshesRecency(t *testing.T) {
	c := newLRU(100)
	c.Put(testChecksum(1), moduleOfSize(40))
	c.Put(testChecksum(2), moduleOfSize(40))
	if _, ok := c.Get(testChecksum(1)); !ok {
		t.Fatal("entry 1 missing")
	}

	c.Put(testChecksum(3), moduleOfSize(40))
	if _, ok := c.Get(testChecksum(1)); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get(testChecksum(2)); ok {
		t.Error("least recently used entry survived")
	}
}

func TestLRURejectsOversized(t *testing.T) {
	c := newLRU(100)
	c.Put(testChecksum(1), moduleOfSize(101))
	if c.Len() != 0 {
		t.Error("oversized module must not be cached")
	}
}

func TestLRURemove(t *testing.T) {
	c := newLRU(100)
	c.Put(testChecksum(1), moduleOfSize(40))
	if _, ok := c.Remove(testChecksum(1)); !ok {
		t.Fatal("Remove failed")
	}
	if c.Len() != 0 || c.SizeBytes() != 0 {
		t.Errorf("len=%d size=%d after remove", c.Len(), c.SizeBytes())
	}
	if _, ok := c.Remove(testChecksum(1)); ok {
		t.Error("second Remove should miss")
	}
}
