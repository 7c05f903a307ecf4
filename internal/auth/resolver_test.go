package auth

import (
	"sync"
	"testing"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putAuth(t *testing.T, s store.Store, id int, fields ...marc.Field) {
	t.Helper()
	rec := marc.New(api.Auth)
	rec.ID = id
	rec.Append(fields...)
	require.NoError(t, s.Upsert(api.Auth.Collection(), rec.ToDocument()))
}

func heading(tag string, pairs ...string) *marc.Datafield {
	f := marc.NewDatafield(tag)
	for i := 0; i+1 < len(pairs); i += 2 {
		f.Subfields = append(f.Subfields, marc.Literal{Code: pairs[i], Value: pairs[i+1]})
	}
	return f
}

func setup(t *testing.T) (store.Store, *Resolver) {
	t.Helper()
	s := store.NewMemoryStore()
	putAuth(t, s, 1, heading("150", "a", "Header"), heading("950", "a", "En-tête", "9", "fr"))
	putAuth(t, s, 2, heading("100", "a", "Smith, John", "d", "1900-1980"))
	putAuth(t, s, 3, heading("100", "a", "Smith, John", "d", "1950-"))
	putAuth(t, s, 4, heading("110", "a", "United Nations"))
	return s, New(s, api.MustDefault())
}

func TestLookup(t *testing.T) {
	_, r := setup(t)

	v, err := r.Lookup(1, "a", "")
	require.NoError(t, err)
	assert.Equal(t, "Header", v)

	v, err = r.Lookup(1, "a", "fr")
	require.NoError(t, err)
	assert.Equal(t, "En-tête", v)

	v, err = r.Lookup(2, "d", "")
	require.NoError(t, err)
	assert.Equal(t, "1900-1980", v)

	v, err = r.Lookup(99, "a", "")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	tag, err := r.HeadingTag(4)
	require.NoError(t, err)
	assert.Equal(t, "110", tag)
	tag, err = r.HeadingTag(99)
	require.NoError(t, err)
	assert.Equal(t, "", tag)

	ok, err := r.Exists(3)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Exists(30)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookupCachesUntilInvalidated(t *testing.T) {
	s, r := setup(t)

	v, err := r.Lookup(1, "a", "")
	require.NoError(t, err)
	assert.Equal(t, "Header", v)

	putAuth(t, s, 1, heading("150", "a", "Changed"))
	v, _ = r.Lookup(1, "a", "")
	assert.Equal(t, "Header", v, "served from cache")
	assert.Equal(t, int64(1), r.Stats().Hits)

	r.Invalidate()
	v, _ = r.Lookup(1, "a", "")
	assert.Equal(t, "Changed", v)

	r.Reset()
	assert.Equal(t, Stats{}, r.Stats())
}

func TestXLookup(t *testing.T) {
	_, r := setup(t)

	xrefs, err := r.XLookup(api.Bib, "650", "a", "Header")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, xrefs)

	xrefs, err = r.XLookup(api.Bib, "700", "a", "Smith, John")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, xrefs)

	xrefs, err = r.XLookup(api.Bib, "650", "a", "header")
	require.NoError(t, err)
	assert.Empty(t, xrefs, "exact match only")

	xrefs, err = r.XLookup(api.Bib, "245", "a", "Header")
	require.NoError(t, err)
	assert.Empty(t, xrefs, "uncontrolled")

	xrefs, err = r.XLookup(api.Auth, "510", "a", "United Nations")
	require.NoError(t, err)
	assert.Equal(t, []int{4}, xrefs)

	xrefs, err = r.XLookupMulti(api.Bib, "600", []marc.Literal{{Code: "a", Value: "Smith, John"}, {Code: "d", Value: "1950-"}})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, xrefs)

	xrefs, err = r.XLookupRegex(api.Bib, "700", "d", "^19", false)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, xrefs)

	_, err = r.XLookupRegex(api.Bib, "700", "d", "(", false)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	_, r := setup(t)

	xref, err := r.Resolve(api.Bib, "650", "a", "Header")
	require.NoError(t, err)
	assert.Equal(t, 1, xref)

	_, err = r.Resolve(api.Bib, "700", "a", "Smith, John")
	var ae *marc.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, marc.AmbiguousAuthValue, ae.Kind)
	assert.Equal(t, []int{2, 3}, ae.Matches)

	_, err = r.Resolve(api.Bib, "650", "a", "Nothing")
	assert.ErrorIs(t, err, marc.ErrInvalidAuthValue)

	_, err = r.Resolve(api.Bib, "245", "a", "Header")
	assert.ErrorIs(t, err, marc.ErrInvalidAuthField)
}

func TestPartialLookup(t *testing.T) {
	s, r := setup(t)

	m, err := r.PartialLookup(api.Bib, "700", "a", "smith", 0)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Value: "Smith, John", Xref: 2}, {Value: "Smith, John", Xref: 3}}, m)

	m, err = r.PartialLookup(api.Bib, "700", "a", "smith", 1)
	require.NoError(t, err)
	assert.Len(t, m, 1)

	for i := 10; i < 70; i++ {
		putAuth(t, s, i, heading("150", "a", "Term number"))
	}
	m, err = r.PartialLookup(api.Bib, "650", "a", "term", 0)
	require.NoError(t, err)
	assert.Len(t, m, DefaultPartialLimit)

	m, err = r.PartialLookup(api.Bib, "650", "a", "a.b", 0)
	require.NoError(t, err)
	assert.Empty(t, m, "substring is literal, not a pattern")
}

func TestUsedAsRecordAuthorities(t *testing.T) {
	_, r := setup(t)
	rec := marc.New(api.Bib, marc.WithAuthorities(r))
	require.NoError(t, rec.Set("650", "a", "Header"))
	require.NoError(t, rec.SetXref("110", "a", 4))
	assert.Equal(t, "United Nations", rec.Value("110", "a"))
	assert.ErrorIs(t, rec.Set("100", "a", "Smith, John"), marc.ErrAmbiguousAuthValue)
}

func TestCacheEviction(t *testing.T) {
	c := newCache[int, string](2)
	c.Add(1, "a")
	c.Add(2, "b")
	_, ok := c.Get(1)
	require.True(t, ok)
	c.Add(3, "c")
	_, ok = c.Get(2)
	assert.False(t, ok, "least recently used entry evicted")
	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 2, c.Len())


	small := newCache[int, string](0)
	small.Add(1, "a")
	small.Add(2, "b")
	assert.Equal(t, 1, small.Len(), "non-positive size holds one entry")
}

func TestResolverCacheBound(t *testing.T) {
	s, _ := setup(t)
	r := New(s, api.MustDefault(), WithCacheSize(1))
	putAuth(t, s, 2, heading("150", "a", "Second"))

	_, err := r.Lookup(1, "a", "")
	require.NoError(t, err)
	_, err = r.Lookup(2, "a", "")
	require.NoError(t, err)
	_, err = r.Lookup(1, "a", "")
	require.NoError(t, err)
	st := r.Stats()
	assert.Equal(t, int64(0), st.Hits, "first entry evicted by the second")
	assert.Equal(t, int64(3), st.Misses)
}

func TestIDAllocator(t *testing.T) {
	s := store.NewMemoryStore()
	a := NewIDAllocator(s)

	require.NoError(t, s.Upsert(api.Bib.Collection(), store.Document{"_id": int64(2)}))
	require.NoError(t, s.Upsert(api.Bib.HistoryCollection(), store.Document{"_id": int64(3)}))

	var got []int
	for i := 0; i < 3; i++ {
		id, err := a.Next(api.Bib)
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []int{1, 4, 5}, got)

	id, err := a.Next(api.Auth)
	require.NoError(t, err)
	assert.Equal(t, 1, id, "counters are per record type")
}

func TestIDAllocatorConcurrent(t *testing.T) {
	a := NewIDAllocator(store.NewMemoryStore())
	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.Next(api.Auth)
			assert.NoError(t, err)
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}
