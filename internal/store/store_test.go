package store

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, openSQLite(t)) })
}

func bib(id int, title string, xref int) Document {
	doc := Document{
		"_id":   id,
		"words": []any{"the", title},
		"245": []any{map[string]any{
			"indicators": []any{" ", " "},
			"subfields": []any{
				map[string]any{"code": "a", "value": title},
			},
		}},
		"updated": "2024-03-0" + string(rune('0'+id)) + "T00:00:00.000Z",
	}
	if xref > 0 {
		doc["650"] = []any{map[string]any{
			"indicators": []any{" ", "7"},
			"subfields":  []any{map[string]any{"code": "a", "xref": xref}},
		}}
	}
	return doc
}

func seed(t *testing.T, s Store) {
	t.Helper()
	require.NoError(t, s.Upsert("bibs", bib(1, "alpha", 10)))
	require.NoError(t, s.Upsert("bibs", bib(2, "beta", 0)))
	require.NoError(t, s.Upsert("bibs", bib(3, "Gamma", 11)))
}

// found carries a Find result so it can be passed to ids inline.
type found struct {
	c   Cursor
	err error
}

func must(c Cursor, err error) found { return found{c, err} }

func ids(t *testing.T, f found) []int64 {
	t.Helper()
	require.NoError(t, f.err)
	docs, err := All(f.c)
	require.NoError(t, err)
	out := make([]int64, 0, len(docs))
	for _, d := range docs {
		out = append(out, d["_id"].(int64))
	}
	return out
}

func sub(code string, f filter.Filter) filter.Filter {
	return filter.ElemMatch{Path: "subfields", Match: filter.And{filter.Eq{Path: "code", Value: code}, f}}
}

func TestStoreGetUpsertDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seed(t, s)

		doc, err := s.Get("bibs", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), doc["_id"])

		_, err = s.Get("bibs", 99)
		assert.ErrorIs(t, err, ErrNotFound)

		doc["extra"] = "x"
		require.NoError(t, s.Upsert("bibs", doc))
		again, err := s.Get("bibs", int64(1))
		require.NoError(t, err)
		assert.Equal(t, "x", again["extra"])

		require.NoError(t, s.Delete("bibs", 1))
		assert.ErrorIs(t, s.Delete("bibs", 1), ErrNotFound)

		_, err = s.Get("bibs", "1")
		assert.ErrorIs(t, err, ErrNotFound, "string and integer ids are distinct keys")
	})
}

func TestStoreFind(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seed(t, s)

		tests := []struct {
			name string
			f    filter.Filter
			want []int64
		}{
			{"all", filter.All{}, []int64{1, 2, 3}},
			{"none", filter.None{}, []int64{}},
			{"eq id", filter.Eq{Path: "_id", Value: 2}, []int64{2}},
			{"array element", filter.Eq{Path: "words", Value: "beta"}, []int64{2}},
			{"subfield value", filter.ElemMatch{Path: "245", Match: sub("a", filter.Eq{Path: "value", Value: "alpha"})}, []int64{1}},
			{"subfield xref in", filter.ElemMatch{Path: "650", Match: sub("a", filter.In{Path: "xref", Values: []any{11, 12}})}, []int64{3}},
			{"regex", filter.ElemMatch{Path: "245", Match: sub("a", filter.Regex{Path: "value", Pattern: "^gam"})}, []int64{}},
			{"regex ignore case", filter.ElemMatch{Path: "245", Match: sub("a", filter.Regex{Path: "value", Pattern: "^gam", IgnoreCase: true})}, []int64{3}},
			{"exists", filter.Exists{Path: "650"}, []int64{1, 3}},
			{"not exists", filter.Not{Filter: filter.Exists{Path: "650"}}, []int64{2}},
			{"range", filter.Range{Path: "updated", Gte: "2024-03-02", Lt: "2024-03-04"}, []int64{2, 3}},
			{"or", filter.Or{filter.Eq{Path: "_id", Value: 1}, filter.Eq{Path: "_id", Value: 3}}, []int64{1, 3}},
			{"and not", filter.And{filter.Exists{Path: "245"}, filter.Not{Filter: filter.Eq{Path: "_id", Value: 1}}}, []int64{2, 3}},
			{"element itself", filter.ElemMatch{Path: "words", Match: filter.Eq{Path: "", Value: "alpha"}}, []int64{1}},
			{"empty in", filter.In{Path: "_id", Values: nil}, []int64{}},
			{"jsonpath", filter.JSONPath{Expr: `$['650'][*].subfields[?(@.xref == 10)]`}, []int64{1}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				got := ids(t, must(s.Find("bibs", tc.f, FindOptions{})))
				assert.Equal(t, tc.want, got)

				n, err := s.Count("bibs", tc.f)
				require.NoError(t, err)
				assert.Equal(t, len(tc.want), n)
			})
		}
	})
}

func TestStoreFindOptions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seed(t, s)

		got := ids(t, must(s.Find("bibs", filter.All{}, FindOptions{Sort: []SortKey{{Path: "_id", Desc: true}}})))
		assert.Equal(t, []int64{3, 2, 1}, got)

		got = ids(t, must(s.Find("bibs", filter.All{}, FindOptions{Skip: 1, Limit: 1})))
		assert.Equal(t, []int64{2}, got)

		c, err := s.Find("bibs", filter.Eq{Path: "_id", Value: 1}, FindOptions{Projection: []string{"words"}})
		require.NoError(t, err)
		docs, err := All(c)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Contains(t, docs[0], "words")
		assert.NotContains(t, docs[0], "245")
	})
}

func TestStoreIncrement(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		const n = 20
		var wg sync.WaitGroup
		seen := make(chan int64, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := s.Increment("bibs")
				assert.NoError(t, err)
				seen <- v
			}()
		}
		wg.Wait()
		close(seen)

		unique := map[int64]bool{}
		for v := range seen {
			unique[v] = true
		}
		assert.Len(t, unique, n)

		v, err := s.Increment("auths")
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})
}

func TestStoreBulkWriteAndDrop(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seed(t, s)
		err := s.BulkWrite("bibs", []WriteOp{
			{Upsert: bib(4, "delta", 0)},
			{DeleteID: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3, 4}, ids(t, must(s.Find("bibs", filter.All{}, FindOptions{}))))

		require.NoError(t, s.EnsureIndex("bibs", Index{Name: "updated", Paths: []string{"updated"}, CaseInsensitive: true}))

		names, err := s.Collections()
		require.NoError(t, err)
		assert.Contains(t, names, "bibs")

		require.NoError(t, s.Drop("bibs"))
		n, err := s.Count("bibs", filter.All{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStoreRejectsBadCollection(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		assert.Error(t, s.Upsert(`bad"name`, Document{"_id": 1}))
		assert.Error(t, s.Upsert("_counters", Document{"_id": 1}))
		assert.Error(t, s.Upsert("bibs", Document{"title": "no id"}))
	})
}

func TestCompileWhere(t *testing.T) {
	where, args, err := compileWhere(filter.ElemMatch{Path: "245", Match: sub("a", filter.Eq{Path: "value", Value: "x"})})
	require.NoError(t, err)
	assert.Contains(t, where, `json_each(doc, '$."245"') AS j1`)
	assert.Contains(t, where, `json_each(j1.value, '$."subfields"') AS j2`)
	assert.Equal(t, []any{"a", "x"}, args)

	assert.Equal(t, `$."245"."indicators"[1]`, jsonPath("245.indicators[1]"))

	_, _, err = compileWhere(filter.JSONPath{Expr: "$.x"})
	var np errNoPushdown
	assert.ErrorAs(t, err, &np)
}
