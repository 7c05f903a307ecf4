package catalog

import (
	"iter"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
)

// Cursor is a lazy, single-pass sequence of records. It is not
// restartable; use Collect for call sites that need several passes.
type Cursor struct {
	rt     api.RecordType
	cur    store.Cursor
	decode func(api.RecordType, store.Document) (*marc.Record, error)
	rec    *marc.Record
	err    error
}

// Next advances to the next record. It returns false at the end or on
// the first decode or store error.
func (c *Cursor) Next() bool {
	if c.err != nil || !c.cur.Next() {
		return false
	}
	c.rec, c.err = c.decode(c.rt, c.cur.Doc())
	return c.err == nil
}

// Record returns the current record.
func (c *Cursor) Record() *marc.Record { return c.rec }

// Err returns the error that stopped iteration, if any.
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

// Close releases the underlying store cursor.
func (c *Cursor) Close() error { return c.cur.Close() }

// All iterates the remaining records and closes the cursor. An error is
// yielded once, as the last pair.
func (c *Cursor) All() iter.Seq2[*marc.Record, error] {
	return func(yield func(*marc.Record, error) bool) {
		defer func() { _ = c.Close() }()
		for c.Next() {
			if !yield(c.rec, nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Collect drains the cursor into a slice and closes it.
func (c *Cursor) Collect() ([]*marc.Record, error) {
	var out []*marc.Record
	for rec, err := range c.All() {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}
