package marc

import (
	"strings"
	"testing"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func literalRecord() *Record {
	r := New(api.Bib)
	r.Append(
		&Controlfield{Tag: "001", Value: "123"},
		&Datafield{Tag: "245", Ind1: "1", Ind2: "0", Subfields: []Subfield{
			Literal{Code: "a", Value: "Title"},
			Literal{Code: "c", Value: "costs $5"},
		}},
		NewDatafield("650", Literal{Code: "a", Value: "Économie"}),
	)
	return r
}

// shape strips everything but tag, indicators and subfields.
func shape(r *Record) string {
	var b strings.Builder
	for _, f := range r.Fields {
		if f.FieldTag() == "000" {
			continue
		}
		b.WriteString(r.FieldText(f))
		b.WriteString("|")
		if d, ok := f.(*Datafield); ok {
			b.WriteString(indicator(d.Ind1) + indicator(d.Ind2))
			for _, s := range d.Subfields {
				b.WriteString(s.SubfieldCode())
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func TestMRCLayout(t *testing.T) {
	r := New(api.Bib)
	r.Append(
		&Controlfield{Tag: "001", Value: "123"},
		&Datafield{Tag: "245", Ind1: "1", Ind2: "0", Subfields: []Subfield{Literal{Code: "a", Value: "Title"}}},
	)
	b, err := r.ToMRC()
	require.NoError(t, err)

	want := "00064    a2200049   4500" +
		"001000400000" + "245001000004" + "\x1e" +
		"123\x1e" + "10\x1faTitle\x1e" + "\x1d"
	assert.Equal(t, want, string(b))
}

func TestMRCRoundTrip(t *testing.T) {
	r := literalRecord()
	b, err := r.ToMRC()
	require.NoError(t, err)

	back, err := FromMRC(api.Bib, b)
	require.NoError(t, err)
	assert.Equal(t, shape(r), shape(back))
	assert.Equal(t, string(b[:5]), back.Value("000", "")[:5])

	_, err = FromMRC(api.Bib, b[:10])
	assert.Error(t, err)
}

func TestMRKRoundTrip(t *testing.T) {
	r := literalRecord()
	mrk := r.ToMRK()
	assert.Contains(t, mrk, "=245  10$aTitle$ccosts {dollar}5\n")
	assert.Contains(t, mrk, `=650  \\$aÉconomie`)

	back, err := FromMRK(api.Bib, mrk)
	require.NoError(t, err)
	assert.Equal(t, shape(r), shape(back))
	assert.Equal(t, "costs $5", back.Value("245", "c"))

	ldr, err := FromMRK(api.Bib, "=LDR  00000nam\\\\2200000\\\\\\4500\n=001  x")
	require.NoError(t, err)
	assert.Equal(t, "00000nam  2200000   4500", ldr.Value("000", ""))

	_, err = FromMRK(api.Bib, "245 no equals")
	assert.Error(t, err)
}

func TestSplitMRK(t *testing.T) {
	chunks := SplitMRK("=001  1\n=245  00$aA\n\n=001  2\n\n\n")
	assert.Len(t, chunks, 2)
}

func TestJSONRoundTrip(t *testing.T) {
	r := literalRecord()
	r.ID = 7
	back, err := FromJSON(api.Bib, r.ToJSON())
	require.NoError(t, err)
	assert.Equal(t, 7, back.ID)
	assert.Equal(t, shape(r), shape(back))
}

func TestJSONKeepsXrefs(t *testing.T) {
	auths, r := fixture()
	require.NoError(t, r.SetXref("650", "a", 1))
	back, err := FromJSON(api.Bib, r.ToJSON(), WithAuthorities(auths))
	require.NoError(t, err)
	assert.Equal(t, Linked{Code: "a", Xref: 1}, back.Datafields("650")[0].Get("a", 0))
}

func TestLinkedIsLossyInTextForms(t *testing.T) {
	auths, r := fixture()
	require.NoError(t, r.SetXref("650", "a", 1))

	back, err := FromMRK(api.Bib, r.ToMRK(), WithAuthorities(auths))
	require.NoError(t, err)
	assert.Equal(t, Literal{Code: "a", Value: "Header"}, back.Datafields("650")[0].Get("a", 0))
}

func TestXMLRoundTrip(t *testing.T) {
	auths, r := fixture()
	require.NoError(t, r.Set("245", "a", "Title"))
	require.NoError(t, r.SetXref("650", "a", 1))

	x, err := r.ToXML()
	require.NoError(t, err)
	assert.Contains(t, x, `<datafield tag="650" ind1=" " ind2=" "><subfield code="a">Header</subfield><subfield code="0">1</subfield></datafield>`)

	back, err := FromXML(api.Bib, x, WithAuthorities(auths))
	require.NoError(t, err)
	assert.Equal(t, []Subfield{Linked{Code: "a", Xref: 1}}, back.Datafields("650")[0].Subfields)
	assert.Equal(t, "Title", back.Value("245", "a"))

	_, err = FromXML(api.Bib, "<record><datafield")
	assert.Error(t, err)
}

func TestDocumentAudit(t *testing.T) {
	r := literalRecord()
	r.ID = 3
	r.CreatedUser = "alice"
	r.User = "bob"
	doc := r.ToDocument()
	assert.Equal(t, int64(3), doc["_id"])
	assert.Equal(t, "alice", doc["created_user"])
	assert.NotContains(t, doc, "created")

	back, err := FromDocument(api.Bib, doc)
	require.NoError(t, err)
	assert.Equal(t, "bob", back.User)

	_, err = FromDocument(api.Bib, map[string]any{"245": "oops"})
	assert.Error(t, err)
}
