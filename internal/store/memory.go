package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
)

// MemoryStore keeps every collection in process memory. Results are
// evaluated with filter.Match. Used by tests and for scratch databases.
type MemoryStore struct {
	mu       sync.RWMutex
	colls    map[string]map[string]Document // collection -> encoded _id -> doc
	counters map[string]int64
	indexes  map[string][]Index
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		colls:    make(map[string]map[string]Document),
		counters: make(map[string]int64),
		indexes:  make(map[string][]Index),
	}
}

func (s *MemoryStore) Get(coll string, id any) (Document, error) {
	key, err := encodeID(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	doc, ok := s.colls[coll][key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return normalize(doc)
}

func (s *MemoryStore) Find(coll string, f filter.Filter, opts FindOptions) (Cursor, error) {
	docs, err := s.matching(coll, f)
	if err != nil {
		return nil, err
	}
	sortDocs(docs, opts.Sort)
	docs = window(docs, opts.Skip, opts.Limit)
	for i, d := range docs {
		docs[i] = project(d, opts.Projection)
	}
	return newSliceCursor(docs), nil
}

func (s *MemoryStore) Count(coll string, f filter.Filter) (int, error) {
	docs, err := s.matching(coll, f)
	return len(docs), err
}

// matching returns copies of the matching documents in primary-key order.
func (s *MemoryStore) matching(coll string, f filter.Filter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.colls[coll]
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(c[keys[i]]["_id"], c[keys[j]]["_id"], keys[i], keys[j]) })

	var out []Document
	for _, k := range keys {
		ok, err := filter.Match(c[k], f)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		cp, err := normalize(c[k])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// lessKey orders numeric ids numerically and everything else by encoded key.
func lessKey(a, b any, ka, kb string) bool {
	if c, ok := filter.Compare(a, b); ok {
		return c < 0
	}
	return ka < kb
}

func (s *MemoryStore) Upsert(coll string, doc Document) error {
	if err := checkCollection(coll); err != nil {
		return err
	}
	key, err := encodeID(doc["_id"])
	if err != nil {
		return err
	}
	cp, err := normalize(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[coll]
	if !ok {
		c = make(map[string]Document)
		s.colls[coll] = c
	}
	c[key] = cp
	return nil
}

func (s *MemoryStore) Delete(coll string, id any) error {
	key, err := encodeID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.colls[coll][key]; !ok {
		return ErrNotFound
	}
	delete(s.colls[coll], key)
	return nil
}

func (s *MemoryStore) Increment(counter string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counter]++
	return s.counters[counter], nil
}

// BulkWrite validates every op before applying any of them under one lock.
// Deletes of missing ids are ignored.
func (s *MemoryStore) BulkWrite(coll string, ops []WriteOp) error {
	if err := checkCollection(coll); err != nil {
		return err
	}
	type prepared struct {
		key string
		doc Document
	}
	prep := make([]prepared, len(ops))
	for i, op := range ops {
		var err error
		if op.Upsert != nil {
			if prep[i].key, err = encodeID(op.Upsert["_id"]); err != nil {
				return fmt.Errorf("store: bulk op %d: %w", i, err)
			}
			if prep[i].doc, err = normalize(op.Upsert); err != nil {
				return fmt.Errorf("store: bulk op %d: %w", i, err)
			}
			continue
		}
		if prep[i].key, err = encodeID(op.DeleteID); err != nil {
			return fmt.Errorf("store: bulk op %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[coll]
	if !ok {
		c = make(map[string]Document)
		s.colls[coll] = c
	}
	for _, p := range prep {
		if p.doc != nil {
			c[p.key] = p.doc
		} else {
			delete(c, p.key)
		}
	}
	return nil
}

func (s *MemoryStore) EnsureIndex(coll string, idx Index) error {
	if err := checkCollection(coll); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.indexes[coll] {
		if existing.Name == idx.Name {
			return nil
		}
	}
	s.indexes[coll] = append(s.indexes[coll], idx)
	return nil
}

func (s *MemoryStore) Drop(coll string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.colls, coll)
	delete(s.indexes, coll)
	return nil
}

func (s *MemoryStore) Collections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.colls))
	for name := range s.colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Close() error { return nil }
