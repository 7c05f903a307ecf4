package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordDoc() map[string]any {
	return map[string]any{
		"_id":   int64(1),
		"words": []any{"this", "titl"},
		"245": []any{
			map[string]any{
				"indicators": []any{" ", " "},
				"subfields": []any{
					map[string]any{"code": "a", "value": "This"},
					map[string]any{"code": "c", "value": "title"},
				},
			},
		},
		"650": []any{
			map[string]any{
				"indicators": []any{" ", "7"},
				"subfields":  []any{map[string]any{"code": "a", "xref": int64(7)}},
			},
		},
		"updated": "2024-03-05T10:00:00.000Z",
	}
}

func subfield(code string, value Filter) Filter {
	return ElemMatch{Path: "subfields", Match: And{Eq{Path: "code", Value: code}, value}}
}

func TestMatch(t *testing.T) {
	doc := recordDoc()

	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"all", All{}, true},
		{"none", None{}, false},
		{"id int", Eq{Path: "_id", Value: 1}, true},
		{"id float", Eq{Path: "_id", Value: 1.0}, true},
		{"terminal array element", Eq{Path: "words", Value: "titl"}, true},
		{"terminal array miss", Eq{Path: "words", Value: "nope"}, false},
		{"subfield exact", ElemMatch{Path: "245", Match: subfield("a", Eq{Path: "value", Value: "This"})}, true},
		{"same field occurrence", ElemMatch{Path: "245", Match: And{
			subfield("a", Eq{Path: "value", Value: "This"}),
			subfield("c", Eq{Path: "value", Value: "title"}),
		}}, true},
		{"wrong code", ElemMatch{Path: "245", Match: subfield("c", Eq{Path: "value", Value: "This"})}, false},
		{"xref in", ElemMatch{Path: "650", Match: subfield("a", In{Path: "xref", Values: []any{int64(3), int64(7)}})}, true},
		{"regex", ElemMatch{Path: "245", Match: subfield("c", Regex{Path: "value", Pattern: "itl"})}, true},
		{"regex case", ElemMatch{Path: "245", Match: subfield("a", Regex{Path: "value", Pattern: "^this$", IgnoreCase: true})}, true},
		{"regex ignores numbers", ElemMatch{Path: "650", Match: subfield("a", Regex{Path: "xref", Pattern: "7"})}, false},
		{"exists", Exists{Path: "650"}, true},
		{"not exists", Not{Filter: Exists{Path: "600"}}, true},
		{"range", Range{Path: "updated", Gte: "2024-03-05", Lt: "2024-03-06"}, true},
		{"range miss", Range{Path: "updated", Lt: "2024-03-05"}, false},
		{"or", Or{Eq{Path: "_id", Value: 2}, Eq{Path: "_id", Value: 1}}, true},
		{"empty or", Or{}, false},
		{"empty and", And{}, true},
		{"element itself", ElemMatch{Path: "words", Match: Eq{Path: "", Value: "this"}}, true},
		{"indicator position", ElemMatch{Path: "650", Match: Eq{Path: "indicators[1]", Value: "7"}}, true},
		{"indicator position miss", ElemMatch{Path: "650", Match: Eq{Path: "indicators[0]", Value: "7"}}, false},
		{"index out of range", ElemMatch{Path: "650", Match: Exists{Path: "indicators[2]"}}, false},
		{"jsonpath", JSONPath{Expr: `$['650'][*].subfields[?(@.xref == 7)]`}, true},
		{"jsonpath miss", JSONPath{Expr: `$['650'][*].subfields[?(@.xref == 8)]`}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Match(doc, tc.f)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got, tc.f.String())
		})
	}
}

func TestMatchInvalidRegex(t *testing.T) {
	_, err := Match(recordDoc(), Regex{Path: "updated", Pattern: "("})
	require.Error(t, err)
}

func TestSimplify(t *testing.T) {
	assert.Equal(t, None{}, Simplify(And{Eq{Path: "a", Value: 1}, None{}}))
	assert.Equal(t, Eq{Path: "a", Value: 1}, Simplify(And{All{}, Eq{Path: "a", Value: 1}}))
	assert.Equal(t, All{}, Simplify(Or{None{}, All{}}))
	assert.Equal(t, None{}, Simplify(Or{None{}}))
	assert.Equal(t, All{}, Simplify(Not{Filter: Or{}}))
}

func TestContains(t *testing.T) {
	f := And{Eq{Path: "a", Value: 1}, ElemMatch{Path: "b", Match: JSONPath{Expr: "$.x"}}}
	assert.True(t, Contains(f, func(f Filter) bool { _, ok := f.(JSONPath); return ok }))
	assert.False(t, Contains(f, func(f Filter) bool { _, ok := f.(Regex); return ok }))
}
