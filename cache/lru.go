package cache

import (
	"container/list"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/engine"
)

// lru is a byte-budgeted, least-recently-used module cache. Not safe for
// concurrent use; the Cache serializes access.
//
// Evicted modules are dropped, not closed: an Instance created from a
// module before its eviction may still be executing it. The compiled code
// is released when the owning engine closes.
type lru struct {
	order   *list.List // front is most recently used
	entries map[contractvm.Checksum]*list.Element
	used    uint64
	budget  uint64
}

type lruEntry struct {
	module   *engine.Module
	checksum contractvm.Checksum
	size     uint64
}

func newLRU(budget uint64) *lru {
	return &lru{
		order:   list.New(),
		entries: make(map[contractvm.Checksum]*list.Element),
		budget:  budget,
	}
}

func (c *lru) Get(checksum contractvm.Checksum) (*engine.Module, bool) {
	elem, ok := c.entries[checksum]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).module, true
}

// Put inserts a module, evicting from the cold end until it fits. Modules
// larger than the whole budget are not cached at all.
func (c *lru) Put(checksum contractvm.Checksum, module *engine.Module) {
	if _, ok := c.entries[checksum]; ok {
		return
	}
	size := module.Size()
	if size > c.budget {
		return
	}
	for c.used+size > c.budget {
		c.evictOldest()
	}
	elem := c.order.PushFront(&lruEntry{module: module, checksum: checksum, size: size})
	c.entries[checksum] = elem
	c.used += size
}

func (c *lru) Remove(checksum contractvm.Checksum) (*engine.Module, bool) {
	elem, ok := c.entries[checksum]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*lruEntry)
	c.order.Remove(elem)
	delete(c.entries, checksum)
	c.used -= entry.size
	return entry.module, true
}

func (c *lru) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*lruEntry)
	c.order.Remove(oldest)
	delete(c.entries, entry.checksum)
	c.used -= entry.size
}

func (c *lru) Len() int { return len(c.entries) }

func (c *lru) SizeBytes() uint64 { return c.used }
