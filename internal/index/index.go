// Package index maintains the search projections stored on record
// documents and the per-field side collections used as term indexes.
//
// A side collection holds one document per distinct field text and set of
// authority links:
//
//	{_id: key, text: scrubbed, words: [stems], subfields: [{code, value[, xref]}]}
//
// The key is the field text, followed by the xrefs of linked subfields when
// there are any. Logical field entries are keyed by value and carry no
// subfields.
//
// Entries are only ever added by Update, so a side collection is a superset
// of the live field texts. Rebuild compacts it.
package index

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/text"
	"github.com/rs/zerolog"
)

// Projection keys added to every record document.
const (
	WordsKey = "words"
	TextKey  = "text"
)

// Indexer computes projections and writes side index entries.
type Indexer struct {
	store store.Store
	table *api.Table
	auths marc.Authorities
	log   zerolog.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the indexer's logger.
func WithLogger(l zerolog.Logger) Option { return func(x *Indexer) { x.log = l } }

// New returns an indexer writing to s. auths resolves linked subfields so
// that projections hold heading text.
func New(s store.Store, table *api.Table, auths marc.Authorities, opts ...Option) *Indexer {
	x := &Indexer{store: s, table: table, auths: auths, log: zerolog.Nop()}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Fields returns the side index names of rt: its index tags followed by
// its logical fields.
func (x *Indexer) Fields(rt api.RecordType) []string {
	return append(append([]string(nil), x.table.IndexTags(rt)...), x.table.LogicalFields(rt)...)
}

// Document returns the stored form of rec with its search projections.
func (x *Indexer) Document(rec *marc.Record) store.Document {
	doc := rec.ToDocument()
	var all []string
	for _, d := range rec.Datafields("") {
		if t := rec.FieldText(d); t != "" {
			all = append(all, t)
		}
	}
	joined := strings.Join(all, " ")
	doc[WordsKey] = toAny(text.Words(joined))
	doc[TextKey] = text.Scrub(joined)
	for _, name := range x.table.LogicalFields(rec.Type) {
		doc[name] = toAny(x.LogicalValues(rec, name))
	}
	return doc
}

// LogicalValues returns the values of logical field name on rec: for each
// source field present, the resolved text of the source codes joined with
// spaces. Duplicates are dropped.
func (x *Indexer) LogicalValues(rec *marc.Record, name string) []string {
	sources, ok := x.table.LogicalField(rec.Type, name)
	if !ok {
		return nil
	}
	out := []string{}
	seen := make(map[string]bool)
	for _, src := range sources {
		for _, d := range rec.Datafields(src.Tag) {
			v := strings.Join(rec.FieldValues(d, src.Codes...), " ")
			if v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// Update adds rec's field texts to the side collections of its record
// type.
func (x *Indexer) Update(rec *marc.Record) error {
	for _, tag := range x.table.IndexTags(rec.Type) {
		var ops []store.WriteOp
		for _, d := range rec.Datafields(tag) {
			if e := x.fieldEntry(rec, d); e != nil {
				ops = append(ops, store.WriteOp{Upsert: e})
			}
		}
		if err := x.write(rec.Type.IndexCollection(tag), ops); err != nil {
			return err
		}
	}
	for _, name := range x.table.LogicalFields(rec.Type) {
		var ops []store.WriteOp
		for _, v := range x.LogicalValues(rec, name) {
			ops = append(ops, store.WriteOp{Upsert: entry(v, v, nil)})
		}
		if err := x.write(rec.Type.IndexCollection(name), ops); err != nil {
			return err
		}
	}
	return nil
}

func (x *Indexer) write(coll string, ops []store.WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	if err := x.store.BulkWrite(coll, ops); err != nil {
		return fmt.Errorf("index: write %s: %w", coll, err)
	}
	return nil
}

func (x *Indexer) fieldEntry(rec *marc.Record, d *marc.Datafield) store.Document {
	t := rec.FieldText(d)
	if t == "" {
		return nil
	}
	key := EntryKey(t, d.Xrefs())
	subs := make([]any, 0, len(d.Subfields))
	for _, s := range d.Subfields {
		v := rec.SubfieldValue(s)
		if v == "" {
			continue
		}
		m := map[string]any{"code": s.SubfieldCode(), "value": v}
		if l, ok := s.(marc.Linked); ok {
			m["xref"] = int64(l.Xref)
		}
		subs = append(subs, m)
	}
	return entry(key, t, subs)
}

// EntryKey is the side entry id of a field with text t linking to xrefs.
func EntryKey(t string, xrefs []int) string {
	var b strings.Builder
	b.WriteString(t)
	for _, x := range xrefs {
		fmt.Fprintf(&b, "\x1f%d", x)
	}
	return b.String()
}

func entry(key, t string, subs []any) store.Document {
	doc := store.Document{
		"_id":    key,
		TextKey:  text.Scrub(t),
		WordsKey: toAny(text.Words(t)),
	}
	if subs != nil {
		doc["subfields"] = subs
	}
	return doc
}

// EnsureIndexes creates the secondary indexes the compiler relies on.
func (x *Indexer) EnsureIndexes(rt api.RecordType) error {
	primary := []store.Index{
		{Name: "updated", Paths: []string{"updated"}},
		{Name: "created", Paths: []string{"created"}},
		{Name: "user", Paths: []string{"user"}, CaseInsensitive: true},
	}
	for _, idx := range primary {
		if err := x.store.EnsureIndex(rt.Collection(), idx); err != nil {
			return fmt.Errorf("index: %w", err)
		}
	}
	for _, field := range x.Fields(rt) {
		idx := store.Index{Name: "text", Paths: []string{TextKey}, CaseInsensitive: true}
		if err := x.store.EnsureIndex(rt.IndexCollection(field), idx); err != nil {
			return fmt.Errorf("index: %w", err)
		}
	}
	return nil
}

// Rebuild drops and repopulates every side collection of rt and refreshes
// the projections of every record. It is safe to re-run after an
// interruption.
func (x *Indexer) Rebuild(rt api.RecordType) (Report, error) {
	for _, field := range x.Fields(rt) {
		if err := x.store.Drop(rt.IndexCollection(field)); err != nil {
			return Report{}, fmt.Errorf("index: drop %s: %w", field, err)
		}
	}
	ids, err := IDs(x.store, rt, filter.All{})
	if err != nil {
		return Report{}, err
	}
	rep := x.Refresh(rt, ids)
	x.log.Info().Str("record_type", string(rt)).Int("records", len(rep.Updated)).
		Int("failed", len(rep.Failed)).Msg("side indexes rebuilt")
	return rep, nil
}

// Report lists the outcome of a bulk pass per record.
type Report struct {
	Updated []int
	Failed  map[int]error
}

// OK reports whether every record succeeded.
func (r Report) OK() bool { return len(r.Failed) == 0 }

func (r *Report) fail(id int, err error) {
	if r.Failed == nil {
		r.Failed = make(map[int]error)
	}
	r.Failed[id] = err
}

// Refresh recomputes the projections and side index entries of the given
// records without touching their history. Failures are collected per
// record.
func (x *Indexer) Refresh(rt api.RecordType, ids *roaring.Bitmap) Report {
	var rep Report
	it := ids.Iterator()
	for it.HasNext() {
		id := int(it.Next())
		if err := x.refreshOne(rt, id); err != nil {
			x.log.Warn().Err(err).Str("record_type", string(rt)).Int("id", id).Msg("refresh failed")
			rep.fail(id, err)
			continue
		}
		rep.Updated = append(rep.Updated, id)
	}
	return rep
}

func (x *Indexer) refreshOne(rt api.RecordType, id int) error {
	doc, err := x.store.Get(rt.Collection(), int64(id))
	if err != nil {
		return err
	}
	rec, err := marc.FromDocument(rt, doc, marc.WithTable(x.table), marc.WithAuthorities(x.auths))
	if err != nil {
		return err
	}
	if err := x.store.Upsert(rt.Collection(), x.Document(rec)); err != nil {
		return err
	}
	return x.Update(rec)
}

// IDs collects the ids of the rt records matching f. The cursor is drained
// and closed before returning, so callers may write while iterating.
func IDs(s store.Store, rt api.RecordType, f filter.Filter) (*roaring.Bitmap, error) {
	cur, err := s.Find(rt.Collection(), f, store.FindOptions{Projection: []string{"_id"}})
	if err != nil {
		return nil, fmt.Errorf("index: scan %s: %w", rt.Collection(), err)
	}
	defer func() { _ = cur.Close() }()
	bm := roaring.New()
	for cur.Next() {
		switch n := cur.Doc()["_id"].(type) {
		case int64:
			bm.Add(uint32(n))
		case int:
			bm.Add(uint32(n))
		}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("index: scan %s: %w", rt.Collection(), err)
	}
	return bm, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
