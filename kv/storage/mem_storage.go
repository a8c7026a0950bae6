package storage

import (
	"sync"
	"time"

	"github.com/google/btree"
)

const defaultDegree = 32

// MemStorage is an in-memory Storage backed by a btree. It is fully
// internally synchronized: in the optimistic modes several validation
// tasks may write concurrently with reads from executing transactions.
type MemStorage struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

type record struct {
	key   Key
	value Value
	ts    int64
}

func (r *record) Less(than btree.Item) bool {
	return r.key < than.(*record).key
}

func NewMemStorage() *MemStorage {
	return &MemStorage{tree: btree.New(defaultDegree)}
}

func (s *MemStorage) Read(key Key) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.tree.Get(&record{key: key})
	if item == nil {
		return 0, false
	}
	return item.(*record).value, true
}

func (s *MemStorage) Write(key Key, value Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(&record{key: key, value: value, ts: time.Now().UnixNano()})
}

// Timestamp returns the wall-clock time of the most recent write to key,
// or 0 if the key has never been written.
func (s *MemStorage) Timestamp(key Key) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.tree.Get(&record{key: key})
	if item == nil {
		return 0
	}
	return item.(*record).ts
}

// Len returns the number of keys present.
func (s *MemStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}
