// Package store is the document storage layer: JSON documents grouped in
// named collections, queried with filter trees.
package store

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/ohler55/ojg/oj"
)

// ErrNotFound is returned by Get and Delete when no document has the id.
var ErrNotFound = errors.New("store: document not found")

// Document is one stored JSON object. The "_id" key is its primary key.
type Document = map[string]any

// SortKey orders results by the value at Path.
type SortKey struct {
	Path string
	Desc bool
}

// FindOptions are passed through to the backend.
type FindOptions struct {
	Sort  []SortKey
	Skip  int
	Limit int // 0 means unlimited
	// Projection restricts returned documents to these top-level keys
	// (plus _id). Empty returns whole documents.
	Projection []string
}

// Index describes a secondary index on a collection.
type Index struct {
	Name            string
	Paths           []string
	CaseInsensitive bool
}

// WriteOp is one mutation in a bulk write. Exactly one of Upsert or
// DeleteID is set.
type WriteOp struct {
	Upsert   Document
	DeleteID any
}

// Cursor is a forward-only, single-pass iterator over documents.
type Cursor interface {
	Next() bool
	Doc() Document
	Err() error
	Close() error
}

// Store is the storage collaborator used by the catalog, resolver and
// indexer. Implementations must make Upsert, Delete and Increment atomic.
type Store interface {
	Get(coll string, id any) (Document, error)
	Find(coll string, f filter.Filter, opts FindOptions) (Cursor, error)
	Count(coll string, f filter.Filter) (int, error)
	Upsert(coll string, doc Document) error
	Delete(coll string, id any) error
	// Increment atomically adds one to the named counter and returns the
	// new value. Counters start at zero.
	Increment(counter string) (int64, error)
	BulkWrite(coll string, ops []WriteOp) error
	EnsureIndex(coll string, idx Index) error
	Drop(coll string) error
	Collections() ([]string, error)
	Close() error
}

var collName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_]*$`)

func checkCollection(coll string) error {
	if !collName.MatchString(coll) {
		return fmt.Errorf("store: invalid collection name %q", coll)
	}
	return nil
}

// All drains a cursor into a slice and closes it.
func All(c Cursor) ([]Document, error) {
	defer func() { _ = c.Close() }()
	var docs []Document
	for c.Next() {
		docs = append(docs, c.Doc())
	}
	return docs, c.Err()
}

// encodeDoc serializes a document to JSON text.
func encodeDoc(doc Document) (string, error) {
	b, err := oj.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("store: encode document: %w", err)
	}
	return string(b), nil
}

// decodeDoc parses JSON text into a document. Integers decode as int64.
func decodeDoc(s string) (Document, error) {
	v, err := oj.ParseString(s)
	if err != nil {
		return nil, fmt.Errorf("store: decode document: %w", err)
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("store: stored value is %T, not an object", v)
	}
	return doc, nil
}

// normalize deep-copies doc through its JSON form so callers never share
// maps with the store and numbers have a single representation.
func normalize(doc Document) (Document, error) {
	s, err := encodeDoc(doc)
	if err != nil {
		return nil, err
	}
	return decodeDoc(s)
}

// encodeID is the primary-key form of an _id value.
func encodeID(id any) (string, error) {
	if id == nil {
		return "", errors.New("store: document has no _id")
	}
	if n, ok := asInt64(id); ok {
		id = n
	}
	b, err := oj.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("store: encode _id: %w", err)
	}
	return string(b), nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func project(doc Document, fields []string) Document {
	if len(fields) == 0 {
		return doc
	}
	out := Document{"_id": doc["_id"]}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// sortDocs orders docs in place. Missing and incomparable values sort first.
func sortDocs(docs []Document, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, aok := filter.Lookup(docs[i], k.Path)
			b, bok := filter.Lookup(docs[j], k.Path)
			var c int
			switch {
			case !aok && !bok:
				c = 0
			case !aok:
				c = -1
			case !bok:
				c = 1
			default:
				c, _ = filter.Compare(a, b)
			}
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func window(docs []Document, skip, limit int) []Document {
	if skip >= len(docs) {
		return nil
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// sliceCursor iterates a materialized result.
type sliceCursor struct {
	docs []Document
	pos  int
	cur  Document
}

func newSliceCursor(docs []Document) *sliceCursor { return &sliceCursor{docs: docs} }

func (c *sliceCursor) Next() bool {
	if c.pos >= len(c.docs) {
		c.cur = nil
		return false
	}
	c.cur = c.docs[c.pos]
	c.pos++
	return true
}

func (c *sliceCursor) Doc() Document { return c.cur }
func (c *sliceCursor) Err() error    { return nil }
func (c *sliceCursor) Close() error  { c.docs = nil; return nil }
