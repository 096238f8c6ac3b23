package store

import (
	"bytes"
	"sort"
	"sync"

	contractvm "github.com/contractvm/contractvm"
)

// Memory is an in-memory KVStore. Iterators see a snapshot of the keys
// taken at creation time, so mutating the store while iterating is safe.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (s *Memory) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (s *Memory) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *Memory) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *Memory) Iterator(start, end []byte) (contractvm.Iterator, error) {
	return s.snapshot(start, end, false), nil
}

func (s *Memory) ReverseIterator(start, end []byte) (contractvm.Iterator, error) {
	return s.snapshot(start, end, true), nil
}

// Len reports the number of stored keys.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Memory) snapshot(start, end []byte, reverse bool) *memoryIterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []kv
	for key, value := range s.data {
		k := []byte(key)
		if start != nil && bytes.Compare(k, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(k, end) >= 0 {
			continue
		}
		entries = append(entries, kv{key: k, value: append([]byte(nil), value...)})
	}
	sort.Slice(entries, func(i, j int) bool {
		less := bytes.Compare(entries[i].key, entries[j].key) < 0
		if reverse {
			return !less
		}
		return less
	})
	return &memoryIterator{entries: entries}
}

type kv struct {
	key   []byte
	value []byte
}

type memoryIterator struct {
	entries []kv
	pos     int
}

func (it *memoryIterator) Valid() bool {
	return it.pos < len(it.entries)
}

func (it *memoryIterator) Key() []byte {
	return it.entries[it.pos].key
}

func (it *memoryIterator) Value() []byte {
	return it.entries[it.pos].value
}

func (it *memoryIterator) Next() {
	if it.pos < len(it.entries) {
		it.pos++
	}
}

func (it *memoryIterator) Error() error { return nil }

func (it *memoryIterator) Close() error { return nil }
