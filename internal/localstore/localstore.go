// Package localstore is a minimal stand-in for "the underlying storage
// engine's upsert/range-delete primitives" that spec.md marks out of scope.
// It models the per-collection reader/writer locks spec.md §5 assumes: Lock
// and RLock guard a namespace, and the data methods below do no locking of
// their own — callers hold the appropriate lock for the duration of one
// unit of work, exactly as the donor and recipient components do.
package localstore

import (
	"sort"
	"sync"

	"github.com/docshard/docshard/pkg/docmodel"
)

type collection struct {
	mu      sync.RWMutex
	docs    map[string]docmodel.Document
	indexes []docmodel.Document
}

// Store holds one collection per namespace, created lazily on first access.
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
}

// New returns an empty Store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) collectionFor(ns string) *collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[ns]
	if !ok {
		c = &collection{docs: make(map[string]docmodel.Document)}
		s.collections[ns] = c
	}
	return c
}

// Lock acquires the write lock for ns and returns the release function.
func (s *Store) Lock(ns string) func() {
	c := s.collectionFor(ns)
	c.mu.Lock()
	return c.mu.Unlock
}

// RLock acquires the read lock for ns and returns the release function.
func (s *Store) RLock(ns string) func() {
	c := s.collectionFor(ns)
	c.mu.RLock()
	return c.mu.RUnlock
}

// GetByID returns the document stored under id in ns. Caller must hold at
// least RLock(ns).
func (s *Store) GetByID(ns, id string) (docmodel.Document, bool) {
	c := s.collectionFor(ns)
	doc, ok := c.docs[id]
	return doc, ok
}

// Upsert stores doc under id in ns, overwriting any existing document.
// Caller must hold Lock(ns).
func (s *Store) Upsert(ns, id string, doc docmodel.Document) {
	c := s.collectionFor(ns)
	c.docs[id] = doc
}

// Delete removes id from ns, if present. Caller must hold Lock(ns).
func (s *Store) Delete(ns, id string) bool {
	c := s.collectionFor(ns)
	if _, ok := c.docs[id]; !ok {
		return false
	}
	delete(c.docs, id)
	return true
}

// Count returns the number of documents in ns. Caller must hold at least
// RLock(ns).
func (s *Store) Count(ns string) int {
	c := s.collectionFor(ns)
	return len(c.docs)
}

// DeleteRange removes every document in ns whose projection onto min's
// fields lies in [min, max), and returns the count deleted. Caller must
// hold Lock(ns).
func (s *Store) DeleteRange(ns string, min, max docmodel.ShardKey) int64 {
	c := s.collectionFor(ns)
	var deleted int64
	for id, doc := range c.docs {
		if docmodel.InRange(min, max, docmodel.Project(doc, min)) {
			delete(c.docs, id)
			deleted++
		}
	}
	return deleted
}

// ScanRange returns every document in ns whose projection onto min's fields
// lies in [min, max), ordered by document id, starting strictly after
// cursor (empty cursor starts at the beginning) and bounded by limit (0
// means unbounded). It returns the id of the last document returned as the
// next cursor, or "" when the range is exhausted. Caller must hold at least
// RLock(ns).
func (s *Store) ScanRange(ns string, min, max docmodel.ShardKey, cursor string, limit int) ([]docmodel.Document, string) {
	c := s.collectionFor(ns)

	ids := make([]string, 0, len(c.docs))
	for id, doc := range c.docs {
		if docmodel.InRange(min, max, docmodel.Project(doc, min)) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := 0
	if cursor != "" {
		start = sort.SearchStrings(ids, cursor)
		if start < len(ids) && ids[start] == cursor {
			start++
		}
	}

	end := len(ids)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]docmodel.Document, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, c.docs[id])
	}

	next := ""
	if end < len(ids) {
		next = ids[end-1]
	}
	return out, next
}

// SetIndexes replaces the index specification list for ns. Caller must
// hold Lock(ns).
func (s *Store) SetIndexes(ns string, specs []docmodel.Document) {
	c := s.collectionFor(ns)
	c.indexes = specs
}

// AddIndex appends one index specification to ns, ignoring duplicates by
// name. Caller must hold Lock(ns).
func (s *Store) AddIndex(ns string, spec docmodel.Document) {
	c := s.collectionFor(ns)
	name, _ := spec["name"].(string)
	if name != "" {
		for _, existing := range c.indexes {
			if n, _ := existing["name"].(string); n == name {
				return
			}
		}
	}
	c.indexes = append(c.indexes, spec)
}

// Indexes returns the index specification list for ns. Caller must hold at
// least RLock(ns).
func (s *Store) Indexes(ns string) []docmodel.Document {
	c := s.collectionFor(ns)
	out := make([]docmodel.Document, len(c.indexes))
	copy(out, c.indexes)
	return out
}
