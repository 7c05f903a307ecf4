package index

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/auth"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *store.MemoryStore
	auths *auth.Resolver
	idx   *Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	table := api.MustDefault()
	a := auth.New(s, table)

	head := marc.New(api.Auth)
	head.ID = 1
	head.Append(marc.NewDatafield("150", marc.Literal{Code: "a", Value: "Header"}))
	require.NoError(t, s.Upsert(api.Auth.Collection(), head.ToDocument()))

	return &fixture{store: s, auths: a, idx: New(s, table, a)}
}

func (f *fixture) bib(t *testing.T, id int, title string) *marc.Record {
	t.Helper()
	rec := marc.New(api.Bib, marc.WithAuthorities(f.auths))
	rec.ID = id
	require.NoError(t, rec.Set("245", "a", title))
	require.NoError(t, rec.Set("245", "b", "subtitle"))
	require.NoError(t, rec.SetXref("650", "a", 1))
	require.NoError(t, f.store.Upsert(api.Bib.Collection(), f.idx.Document(rec)))
	require.NoError(t, f.idx.Update(rec))
	return rec
}

func TestDocumentProjections(t *testing.T) {
	f := newFixture(t)
	rec := f.bib(t, 1, "Running Cats")

	doc := f.idx.Document(rec)
	assert.Equal(t, "running cats subtitle header", doc[TextKey])
	assert.Equal(t, []any{"run", "cat", "subtitl", "header"}, doc[WordsKey])
	assert.Equal(t, []any{"Running Cats subtitle"}, doc["title"])
	assert.Equal(t, []any{"Header"}, doc["subject"])
	assert.Equal(t, []any{}, doc["author"])

	assert.Equal(t, []string{"Running Cats subtitle"}, f.idx.LogicalValues(rec, "title"))
	assert.Nil(t, f.idx.LogicalValues(rec, "nope"))
}

func TestUpdateWritesSideEntries(t *testing.T) {
	f := newFixture(t)
	f.bib(t, 1, "Running Cats")
	f.bib(t, 2, "Running Cats")

	n, err := f.store.Count(api.Bib.IndexCollection("245"), filter.All{})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "entries are deduplicated by text")

	e, err := f.store.Get(api.Bib.IndexCollection("650"), EntryKey("Header", []int{1}))
	require.NoError(t, err)
	assert.Equal(t, "header", e[TextKey])
	assert.Equal(t, []any{map[string]any{"code": "a", "value": "Header", "xref": int64(1)}}, e["subfields"])

	e, err = f.store.Get(api.Bib.IndexCollection("title"), "Running Cats subtitle")
	require.NoError(t, err)
	assert.Equal(t, []any{"run", "cat", "subtitl"}, e[WordsKey])
	assert.NotContains(t, e, "subfields")
}

func TestRefreshAfterHeadingChange(t *testing.T) {
	f := newFixture(t)
	f.bib(t, 1, "One")
	f.bib(t, 2, "Two")

	head := marc.New(api.Auth)
	head.ID = 1
	head.Append(marc.NewDatafield("150", marc.Literal{Code: "a", Value: "Renamed"}))
	require.NoError(t, f.store.Upsert(api.Auth.Collection(), head.ToDocument()))
	f.auths.Invalidate()

	ids, err := IDs(f.store, api.Bib, filter.All{})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, ids.ToArray())

	rep := f.idx.Refresh(api.Bib, ids)
	assert.True(t, rep.OK())
	assert.Equal(t, []int{1, 2}, rep.Updated)

	doc, err := f.store.Get(api.Bib.Collection(), int64(2))
	require.NoError(t, err)
	assert.Equal(t, []any{"Renamed"}, doc["subject"])
	_, err = f.store.Get(api.Bib.IndexCollection("650"), EntryKey("Renamed", []int{1}))
	assert.NoError(t, err)
}

func TestRefreshCollectsFailures(t *testing.T) {
	f := newFixture(t)
	f.bib(t, 1, "One")

	rep := f.idx.Refresh(api.Bib, roaring.BitmapOf(1, 7))
	assert.False(t, rep.OK())
	assert.Equal(t, []int{1}, rep.Updated)
	assert.ErrorIs(t, rep.Failed[7], store.ErrNotFound)
}

func TestLiteralAndLinkedEntriesAreDistinct(t *testing.T) {
	f := newFixture(t)
	f.bib(t, 1, "One")
	rec := marc.New(api.Bib, marc.WithAuthorities(f.auths))
	rec.ID = 2
	require.NoError(t, rec.Set("650", "a", "Header", marc.WithoutAuthControl()))
	require.NoError(t, f.idx.Update(rec))

	n, err := f.store.Count(api.Bib.IndexCollection("650"), filter.Eq{Path: TextKey, Value: "header"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "Header\x1f1\x1f2", EntryKey("Header", []int{1, 2}))
}

func TestRebuildIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.bib(t, 1, "One")
	require.NoError(t, f.store.Upsert(api.Bib.IndexCollection("245"), store.Document{"_id": "stale"}))

	for i := 0; i < 2; i++ {
		rep, err := f.idx.Rebuild(api.Bib)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, rep.Updated)

		_, err = f.store.Get(api.Bib.IndexCollection("245"), "stale")
		assert.ErrorIs(t, err, store.ErrNotFound)
		n, err := f.store.Count(api.Bib.IndexCollection("245"), filter.All{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestEnsureIndexes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.idx.EnsureIndexes(api.Auth))
	require.NoError(t, f.idx.EnsureIndexes(api.Auth))
	assert.Contains(t, f.idx.Fields(api.Auth), "heading")
	assert.Contains(t, f.idx.Fields(api.Bib), "245")
}
