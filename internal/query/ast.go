// Package query parses the catalog's query strings into a clause tree and
// compiles that tree into store filters.
//
// Grammar summary:
//
//	245a:'exact'   245a:/regex/i   245a:ti*le   245a:free text words
//	245:value      24510a:value    245a:*       001:123
//	id:123         xref:456        created>2024-01-01   user:alice
//	title:value    "a phrase"      -excluded    bare words
//	A AND B        A OR B          NOT 650a:x   ( ... )
//
// OR binds tighter than AND, so "A AND B OR C" is A AND (B OR C).
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
)

// Query is an implicit AND over its clauses, evaluated against records of
// Type.
type Query struct {
	Type    api.RecordType
	Clauses []Clause
}

func (q *Query) String() string {
	parts := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}

// Clause is one node of a query.
type Clause interface {
	isClause()
	String() string
}

// Modifier alters how a Condition applies.
type Modifier int

const (
	// Match requires a field occurrence carrying every subfield value.
	Match Modifier = iota
	// Negate requires that no field occurrence matches (or the field is
	// absent).
	Negate
	// Exists requires the field (or subfield) to be present.
	Exists
	// NotExists requires it to be absent.
	NotExists
)

func (m Modifier) String() string {
	switch m {
	case Negate:
		return "not"
	case Exists:
		return "exists"
	case NotExists:
		return "not_exists"
	}
	return ""
}

// SubfieldValue pairs a subfield code with the value it must hold. An empty
// Code matches any subfield of the field.
type SubfieldValue struct {
	Code  string
	Value Value
}

// Condition matches one field occurrence of Tag holding all of Subfields.
// Ind1 and Ind2, when not empty, constrain the indicators of that same
// occurrence.
type Condition struct {
	Tag       string
	Ind1      string
	Ind2      string
	Subfields []SubfieldValue
	Modifier  Modifier
}

// Or matches when any clause matches.
type Or []Clause

// And matches when every clause matches. The parser produces it for
// parenthesized groups.
type And []Clause

// Not inverts a clause.
type Not struct{ Clause Clause }

// Text is a free-text search over every field of the record.
type Text struct {
	Value   FreeText
	Negated bool
}

// IDMatch selects one record by id.
type IDMatch struct{ ID int }

// XrefMatch selects records linking to authority Xref from any controlled
// field.
type XrefMatch struct{ Xref int }

// DateOp compares an audit timestamp with a calendar day.
type DateOp byte

const (
	OnDay  DateOp = ':'
	Before DateOp = '<'
	After  DateOp = '>'
)

// AuditDate matches the created or updated timestamp. OnDay covers the
// whole day; Before and After include the day itself.
type AuditDate struct {
	Field string // "created" or "updated"
	Op    DateOp
	Date  time.Time
}

// AuditUser matches the created_user or user field.
type AuditUser struct {
	Field string // "created_user" or "user"
	Value Value
}

// LogicalField matches a named logical field.
type LogicalField struct {
	Name  string
	Value Value
}

// Raw embeds a filter as is.
type Raw struct{ Filter filter.Filter }

func (*Condition) isClause()   {}
func (Or) isClause()           {}
func (And) isClause()          {}
func (Not) isClause()          {}
func (Text) isClause()         {}
func (IDMatch) isClause()      {}
func (XrefMatch) isClause()    {}
func (AuditDate) isClause()    {}
func (AuditUser) isClause()    {}
func (LogicalField) isClause() {}
func (Raw) isClause()          {}

func (c *Condition) String() string {
	var b strings.Builder
	if c.Modifier != Match {
		b.WriteString(c.Modifier.String())
		b.WriteString(" ")
	}
	b.WriteString(c.Tag)
	if c.Ind1 != "" || c.Ind2 != "" {
		fmt.Fprintf(&b, "[%s%s]", orBlank(c.Ind1), orBlank(c.Ind2))
	}
	for i, s := range c.Subfields {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%s:%s", s.Code, s.Value)
	}
	return b.String()
}

func orBlank(s string) string {
	if s == "" {
		return "_"
	}
	return s
}

func (c Or) String() string  { return "(" + joinClauses(c, " OR ") + ")" }
func (c And) String() string { return "(" + joinClauses(c, " AND ") + ")" }
func (c Not) String() string { return "NOT " + c.Clause.String() }

func (c Text) String() string {
	if c.Negated {
		return "-" + c.Value.String()
	}
	return c.Value.String()
}

func (c IDMatch) String() string   { return fmt.Sprintf("id:%d", c.ID) }
func (c XrefMatch) String() string { return fmt.Sprintf("xref:%d", c.Xref) }
func (c AuditDate) String() string {
	return fmt.Sprintf("%s%c%s", c.Field, c.Op, c.Date.Format("2006-01-02"))
}
func (c AuditUser) String() string    { return c.Field + ":" + c.Value.String() }
func (c LogicalField) String() string { return c.Name + ":" + c.Value.String() }
func (c Raw) String() string          { return "raw(" + c.Filter.String() + ")" }

func joinClauses(cs []Clause, sep string) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, sep)
}

// Value is what a subfield or field must hold.
type Value interface {
	isValue()
	String() string
}

// Exact is a literal, case-sensitive value.
type Exact string

// Xref is an authority id.
type Xref int

// Pattern is a regular expression. Wildcard marks patterns built from a
// word*card value.
type Pattern struct {
	Regex      string
	IgnoreCase bool
	Wildcard   bool
}

// FreeText matches values containing every stemmed word of Text, or the
// whole of Text as a phrase.
type FreeText struct {
	Text   string
	Phrase bool
}

// AnyValue matches presence.
type AnyValue struct{}

func (Exact) isValue()    {}
func (Xref) isValue()     {}
func (Pattern) isValue()  {}
func (FreeText) isValue() {}
func (AnyValue) isValue() {}

func (v Exact) String() string { return "'" + string(v) + "'" }
func (v Xref) String() string  { return fmt.Sprintf("#%d", int(v)) }
func (v Pattern) String() string {
	if v.IgnoreCase {
		return "/" + v.Regex + "/i"
	}
	return "/" + v.Regex + "/"
}
func (v FreeText) String() string {
	if v.Phrase {
		return `"` + v.Text + `"`
	}
	return v.Text
}
func (AnyValue) String() string { return "*" }
