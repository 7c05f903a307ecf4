package query

import (
	"errors"
	"testing"
	"time"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	toks, err := tokenize(`245a:'A AND B' AND 650a:/x y/i OR "a phrase" NOT 650a:x`)
	require.NoError(t, err)

	var kinds []tokenKind
	var texts []string
	for _, tok := range toks {
		kinds = append(kinds, tok.kind)
		texts = append(texts, tok.text)
	}
	assert.Equal(t, []tokenKind{tokTerm, tokAnd, tokTerm, tokOr, tokTerm, tokNot, tokTerm}, kinds)
	assert.Equal(t, []string{"245a:'A AND B'", "AND", "650a:/x y/i", "OR", `"a phrase"`, "NOT", "650a:x"}, texts)
	assert.Equal(t, 15, toks[1].pos)
}

func TestTokenizeSpans(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"apostrophe inside quote", "245a:'it's here'", []string{"245a:'it's here'"}},
		{"escaped slash", `245a:/a\/b c/`, []string{`245a:/a\/b c/`}},
		{"parenthesized quote", "(245a:'x y')", []string{"(", "245a:'x y'", ")"}},
		{"slash outside value", "a/b c", []string{"a/b", "c"}},
		{"lowercase operators are words", "cats and dogs", []string{"cats", "and", "dogs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks, err := tokenize(tt.in)
			require.NoError(t, err)
			var got []string
			for _, tok := range toks {
				got = append(got, tok.text)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenizeUnterminated(t *testing.T) {
	for _, in := range []string{"245a:'open", "245a:/open", `"open`, `x AND 245a:"open`} {
		_, err := tokenize(in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, ErrInvalidQueryString)

		var qe *InvalidQueryStringError
		require.True(t, errors.As(err, &qe))
		assert.Equal(t, in, qe.Query)
		assert.GreaterOrEqual(t, qe.Pos, 0)
	}
}

func parse(t *testing.T, s string) *Query {
	t.Helper()
	q, err := Parse(s, api.Bib, api.MustDefault())
	require.NoError(t, err, s)
	return q
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"245a:x AND 245b:y OR 245c:z", "245a:x AND (245b:y OR 245c:z)"},
		{"245a:x OR 245b:y 245c:z", "(245a:x OR 245b:y) AND 245c:z"},
		{"245a:x OR 245b:y OR 245c:z", "(245a:x OR 245b:y OR 245c:z)"},
		{"(245a:x OR 245b:y) AND 650a:z", "(245a:x OR 245b:y) AND 650a:z"},
		{"245a:x AND (245b:y 245c:z)", "245a:x AND (245b:y AND 245c:z)"},
		{"((245a:x))", "245a:x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parse(t, tt.in).String())
		})
	}
}

func TestParseNot(t *testing.T) {
	q := parse(t, "NOT 245a:x")
	require.Len(t, q.Clauses, 1)
	assert.Equal(t, Negate, q.Clauses[0].(*Condition).Modifier)

	q = parse(t, "245a:x AND NOT 245a:*")
	assert.Equal(t, NotExists, q.Clauses[1].(*Condition).Modifier)

	q = parse(t, "245a:x OR NOT xref:3")
	assert.Equal(t, Or{q.Clauses[0].(Or)[0], Not{Clause: XrefMatch{Xref: 3}}}, q.Clauses[0])

	q = parse(t, "NOT (245a:x OR 245b:y)")
	assert.IsType(t, Not{}, q.Clauses[0])

	for _, bad := range []string{
		"245a:x NOT 245b:y",
		"245a:x AND NOT cats",
		"NOT -cats",
		"245a:x AND NOT",
	} {
		_, err := Parse(bad, api.Bib, api.MustDefault())
		assert.ErrorIs(t, err, ErrInvalidQueryString, bad)
	}
}

func TestParseErrors(t *testing.T) {
	for _, bad := range []string{
		"",
		"AND 245a:x",
		"245a:x AND",
		"245a:x OR",
		"(245a:x",
		"()",
		"245a:",
		"id:abc",
		"xref:-1",
		"001:x",
		"created:2024-13-01",
		"nope:cats",
		"245a:/[/",
		"001a:x",
	} {
		_, err := Parse(bad, api.Bib, api.MustDefault())
		assert.ErrorIs(t, err, ErrInvalidQueryString, "%q", bad)
	}
}

func TestParseTerms(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want Clause
	}{
		{"001:12", IDMatch{ID: 12}},
		{"id:7", IDMatch{ID: 7}},
		{"xref:5", XrefMatch{Xref: 5}},
		{"created>2024-01-02", AuditDate{Field: "created", Op: After, Date: day}},
		{"updated:2024-01-02", AuditDate{Field: "updated", Op: OnDay, Date: day}},
		{"user:alice", AuditUser{Field: "user", Value: FreeText{Text: "alice"}}},
		{"created_user:'Bob'", AuditUser{Field: "created_user", Value: Exact("Bob")}},
		{"title:cats", LogicalField{Name: "title", Value: FreeText{Text: "cats"}}},
		{"-cats", Text{Value: FreeText{Text: "cats"}, Negated: true}},
		{`"two words"`, Text{Value: FreeText{Text: "two words", Phrase: true}}},
		{"245a:'This'", &Condition{Tag: "245", Subfields: []SubfieldValue{{Code: "a", Value: Exact("This")}}}},
		{"24510a:x", &Condition{Tag: "245", Ind1: "1", Ind2: "0", Subfields: []SubfieldValue{{Code: "a", Value: FreeText{Text: "x"}}}}},
		{`245_\a:x`, &Condition{Tag: "245", Ind1: " ", Ind2: " ", Subfields: []SubfieldValue{{Code: "a", Value: FreeText{Text: "x"}}}}},
		{"245:x", &Condition{Tag: "245", Subfields: []SubfieldValue{{Value: FreeText{Text: "x"}}}}},
		{"245a:*", &Condition{Tag: "245", Subfields: []SubfieldValue{{Code: "a", Value: AnyValue{}}}, Modifier: Exists}},
		{"245a:/^T/i", &Condition{Tag: "245", Subfields: []SubfieldValue{{Code: "a", Value: Pattern{Regex: "^T", IgnoreCase: true}}}}},
		{`245a:"a b"`, &Condition{Tag: "245", Subfields: []SubfieldValue{{Code: "a", Value: FreeText{Text: "a b", Phrase: true}}}}},
		{"245a:ti*le", &Condition{Tag: "245", Subfields: []SubfieldValue{{Code: "a", Value: Pattern{Regex: "^ti.*le$", IgnoreCase: true, Wildcard: true}}}}},
		{"008:abc", &Condition{Tag: "008", Subfields: []SubfieldValue{{Value: FreeText{Text: "abc"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q := parse(t, tt.in)
			require.Len(t, q.Clauses, 1)
			assert.Equal(t, tt.want, q.Clauses[0])
		})
	}
}

func TestParseLogicalFieldsFollowRecordType(t *testing.T) {
	_, err := Parse("heading:x", api.Bib, api.MustDefault())
	assert.ErrorIs(t, err, ErrInvalidQueryString)

	q, err := Parse("heading:x", api.Auth, api.MustDefault())
	require.NoError(t, err)
	assert.Equal(t, api.Auth, q.Type)

	q, err = Parse("title:x", "", api.MustDefault())
	require.NoError(t, err)
	assert.Equal(t, api.RecordType(""), q.Type)
}

func TestWildcard(t *testing.T) {
	assert.Equal(t, "itl", Wildcard("*itl*").Regex)
	assert.Equal(t, "^ti", Wildcard("ti*").Regex)
	assert.Equal(t, "le$", Wildcard("*le").Regex)
	assert.Equal(t, `^a\.b.*c$`, Wildcard("a.b*c").Regex)
}
