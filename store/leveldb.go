// Package store provides KVStore implementations for contract state: a
// LevelDB-backed store for persistent hosts and an in-memory store for
// tests and simulations.
package store

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"

	contractvm "github.com/contractvm/contractvm"
)

// LevelDB persists contract state in a LevelDB database. It satisfies
// contractvm.KVStore; range scans map directly onto LevelDB iterators.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Close flushes and closes the database.
func (s *LevelDB) Close() error {
	return s.db.Close()
}

func (s *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return value, err
}

func (s *LevelDB) Set(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *LevelDB) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *LevelDB) Iterator(start, end []byte) (contractvm.Iterator, error) {
	it := s.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	return newLevelDBIterator(it, false), nil
}

func (s *LevelDB) ReverseIterator(start, end []byte) (contractvm.Iterator, error) {
	it := s.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	return newLevelDBIterator(it, true), nil
}

// levelDBIterator adapts LevelDB's seek-style iterator to the positioned
// style of contractvm.Iterator. Key/value buffers are copied because
// LevelDB reuses them across Next calls.
type levelDBIterator struct {
	it      iterator.Iterator
	valid   bool
	reverse bool
}

func newLevelDBIterator(it iterator.Iterator, reverse bool) *levelDBIterator {
	l := &levelDBIterator{it: it, reverse: reverse}
	if reverse {
		l.valid = it.Last()
	} else {
		l.valid = it.First()
	}
	return l
}

func (l *levelDBIterator) Valid() bool {
	return l.valid
}

func (l *levelDBIterator) Key() []byte {
	return append([]byte(nil), l.it.Key()...)
}

func (l *levelDBIterator) Value() []byte {
	return append([]byte(nil), l.it.Value()...)
}

func (l *levelDBIterator) Next() {
	if !l.valid {
		return
	}
	if l.reverse {
		l.valid = l.it.Prev()
	} else {
		l.valid = l.it.Next()
	}
}

func (l *levelDBIterator) Error() error {
	return l.it.Error()
}

func (l *levelDBIterator) Close() error {
	l.it.Release()
	return l.it.Error()
}
