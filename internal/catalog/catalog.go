// Package catalog is the persistence façade over records: lookups and
// searches that yield records, and the write paths (commit, delete,
// revert, restore, merge) that keep history, side indexes and authority
// links consistent.
package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/auth"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/index"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/query"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
	"github.com/rs/zerolog"
)

// Catalog ties a store to the services records need.
type Catalog struct {
	store     store.Store
	table     *api.Table
	auths     *auth.Resolver
	ids       *auth.IDAllocator
	idx       *index.Indexer
	comp      *query.Compiler
	validator marc.Validator
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithTable sets the authority control and logical field configuration.
func WithTable(t *api.Table) Option { return func(c *Catalog) { c.table = t } }

// WithLogger sets the logger shared by the catalog's services.
func WithLogger(l zerolog.Logger) Option { return func(c *Catalog) { c.log = l } }

// WithValidator replaces the schema validator run at commit.
func WithValidator(v marc.Validator) Option { return func(c *Catalog) { c.validator = v } }

// WithClock sets the source of audit timestamps.
func WithClock(now func() time.Time) Option { return func(c *Catalog) { c.now = now } }

// New returns a catalog over s.
func New(s store.Store, opts ...Option) *Catalog {
	c := &Catalog{
		store:     s,
		validator: marc.SchemaValidator{},
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.table == nil {
		c.table = api.MustDefault()
	}
	c.auths = auth.New(s, c.table, auth.WithLogger(c.log))
	c.ids = auth.NewIDAllocator(s)
	c.idx = index.New(s, c.table, c.auths, index.WithLogger(c.log))
	c.comp = query.NewCompiler(s, c.table, c.auths, query.WithLogger(c.log))
	return c
}

// Store returns the underlying store.
func (c *Catalog) Store() store.Store { return c.store }

// Table returns the catalog's configuration.
func (c *Catalog) Table() *api.Table { return c.table }

// Resolver returns the authority resolver.
func (c *Catalog) Resolver() *auth.Resolver { return c.auths }

// Compiler returns the query compiler.
func (c *Catalog) Compiler() *query.Compiler { return c.comp }

// Indexer returns the side index maintainer.
func (c *Catalog) Indexer() *index.Indexer { return c.idx }

// EnsureIndexes creates the store indexes of both record types.
func (c *Catalog) EnsureIndexes() error {
	for _, rt := range []api.RecordType{api.Bib, api.Auth} {
		if err := c.idx.EnsureIndexes(rt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) stamp() time.Time { return c.now().UTC().Truncate(time.Millisecond) }

// RecordOptions bind a record built elsewhere to the catalog's services.
func (c *Catalog) RecordOptions() []marc.Option {
	return []marc.Option{marc.WithTable(c.table), marc.WithAuthorities(c.auths), marc.WithLogger(c.log)}
}

// NewRecord returns an empty record bound to the catalog.
func (c *Catalog) NewRecord(rt api.RecordType) *marc.Record {
	return marc.New(rt, c.RecordOptions()...)
}

func (c *Catalog) decode(rt api.RecordType, doc store.Document) (*marc.Record, error) {
	rec, err := marc.FromDocument(rt, doc, c.RecordOptions()...)
	if err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", rt, err)
	}
	return rec, nil
}

// Get returns record id of type rt, or nil when there is none.
func (c *Catalog) Get(rt api.RecordType, id int) (*marc.Record, error) {
	doc, err := c.store.Get(rt.Collection(), int64(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s %d: %w", rt, id, err)
	}
	return c.decode(rt, doc)
}

// Find runs f against the records of rt.
func (c *Catalog) Find(rt api.RecordType, f filter.Filter, opts store.FindOptions) (*Cursor, error) {
	cur, err := c.store.Find(rt.Collection(), f, opts)
	if err != nil {
		return nil, fmt.Errorf("catalog: find %s: %w", rt, err)
	}
	return &Cursor{rt: rt, cur: cur, decode: c.decode}, nil
}

// Search compiles a query string and runs it against the records of rt.
func (c *Catalog) Search(rt api.RecordType, qs string, opts store.FindOptions) (*Cursor, error) {
	f, err := c.comp.CompileString(qs, rt)
	if err != nil {
		return nil, err
	}
	return c.Find(rt, f, opts)
}

// FindQuery compiles and runs q. A query without a record type searches
// bibs.
func (c *Catalog) FindQuery(q *query.Query, opts store.FindOptions) (*Cursor, error) {
	f, err := c.comp.Compile(q)
	if err != nil {
		return nil, err
	}
	return c.Find(queryType(q), f, opts)
}

func queryType(q *query.Query) api.RecordType {
	if q.Type == "" {
		return api.Bib
	}
	return q.Type
}

// Count counts the records of rt matching f.
func (c *Catalog) Count(rt api.RecordType, f filter.Filter) (int, error) {
	n, err := c.store.Count(rt.Collection(), f)
	if err != nil {
		return 0, fmt.Errorf("catalog: count %s: %w", rt, err)
	}
	return n, nil
}

// CountQuery counts the records matching q.
func (c *Catalog) CountQuery(q *query.Query) (int, error) {
	f, err := c.comp.Compile(q)
	if err != nil {
		return 0, err
	}
	return c.Count(queryType(q), f)
}

// CountSearch counts the records of rt matching a query string.
func (c *Catalog) CountSearch(rt api.RecordType, qs string) (int, error) {
	f, err := c.comp.CompileString(qs, rt)
	if err != nil {
		return 0, err
	}
	return c.Count(rt, f)
}

// Reindex rebuilds the side indexes and search projections of rt.
func (c *Catalog) Reindex(rt api.RecordType) (PropagationReport, error) {
	var rep PropagationReport
	if err := c.idx.EnsureIndexes(rt); err != nil {
		return rep, err
	}
	r, err := c.idx.Rebuild(rt)
	if err != nil {
		return rep, err
	}
	rep.merge(rt, r)
	return rep, rep.Err()
}
