// Package filter defines the backend-neutral predicate tree that compiled
// queries produce and stores execute.
//
// Paths are dotted object keys. Arrays are never traversed implicitly in the
// middle of a path; use ElemMatch to descend into array elements, or a
// key[n] segment to select one element by position. When the
// value at the end of a path is an array, scalar predicates match if any
// element matches. Inside ElemMatch the empty path addresses the element
// itself.
package filter

import (
	"fmt"
	"strings"
)

// Filter is a node in the predicate tree.
type Filter interface {
	isFilter()
	String() string
}

// All matches every document.
type All struct{}

// None matches no document.
type None struct{}

// And matches when every child matches. An empty And matches everything.
type And []Filter

// Or matches when any child matches. An empty Or matches nothing.
type Or []Filter

// Not inverts its child.
type Not struct{ Filter Filter }

// Eq matches when the value at Path equals Value.
type Eq struct {
	Path  string
	Value any
}

// In matches when the value at Path equals any of Values.
type In struct {
	Path   string
	Values []any
}

// Exists matches when Path resolves to a value.
type Exists struct{ Path string }

// Regex matches string values at Path against Pattern.
type Regex struct {
	Path       string
	Pattern    string
	IgnoreCase bool
}

// Range bounds the value at Path. Nil bounds are open.
type Range struct {
	Path            string
	Gte, Gt, Lte, Lt any
}

// ElemMatch matches when some element of the array at Path satisfies Match.
type ElemMatch struct {
	Path  string
	Match Filter
}

// JSONPath matches when the JSONPath expression selects at least one value
// from the document. Stores that cannot push it down evaluate it in-process.
type JSONPath struct{ Expr string }

func (All) isFilter()       {}
func (None) isFilter()      {}
func (And) isFilter()       {}
func (Or) isFilter()        {}
func (Not) isFilter()       {}
func (Eq) isFilter()        {}
func (In) isFilter()        {}
func (Exists) isFilter()    {}
func (Regex) isFilter()     {}
func (Range) isFilter()     {}
func (ElemMatch) isFilter() {}
func (JSONPath) isFilter()  {}

func (All) String() string  { return "all" }
func (None) String() string { return "none" }

func (f And) String() string { return joinFilters("and", f) }
func (f Or) String() string  { return joinFilters("or", f) }

func (f Not) String() string { return "not(" + f.Filter.String() + ")" }

func (f Eq) String() string { return fmt.Sprintf("%s == %#v", f.Path, f.Value) }

func (f In) String() string { return fmt.Sprintf("%s in %v", f.Path, f.Values) }

func (f Exists) String() string { return "exists(" + f.Path + ")" }

func (f Regex) String() string {
	flags := ""
	if f.IgnoreCase {
		flags = "i"
	}
	return fmt.Sprintf("%s =~ /%s/%s", f.Path, f.Pattern, flags)
}

func (f Range) String() string {
	var parts []string
	if f.Gte != nil {
		parts = append(parts, fmt.Sprintf(">= %v", f.Gte))
	}
	if f.Gt != nil {
		parts = append(parts, fmt.Sprintf("> %v", f.Gt))
	}
	if f.Lte != nil {
		parts = append(parts, fmt.Sprintf("<= %v", f.Lte))
	}
	if f.Lt != nil {
		parts = append(parts, fmt.Sprintf("< %v", f.Lt))
	}
	return f.Path + " " + strings.Join(parts, " ")
}

func (f ElemMatch) String() string { return f.Path + "[" + f.Match.String() + "]" }

func (f JSONPath) String() string { return "jsonpath(" + f.Expr + ")" }

func joinFilters(op string, fs []Filter) string {
	parts := make([]string, len(fs))
	for i, c := range fs {
		parts[i] = c.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

// Contains reports whether pred holds for f or any of its descendants.
func Contains(f Filter, pred func(Filter) bool) bool {
	if pred(f) {
		return true
	}
	switch v := f.(type) {
	case And:
		for _, c := range v {
			if Contains(c, pred) {
				return true
			}
		}
	case Or:
		for _, c := range v {
			if Contains(c, pred) {
				return true
			}
		}
	case Not:
		return Contains(v.Filter, pred)
	case ElemMatch:
		return Contains(v.Match, pred)
	}
	return false
}

// Simplify folds constant All/None children out of And, Or and Not.
func Simplify(f Filter) Filter {
	switch v := f.(type) {
	case And:
		out := make(And, 0, len(v))
		for _, c := range v {
			c = Simplify(c)
			switch c.(type) {
			case None:
				return None{}
			case All:
				continue
			}
			out = append(out, c)
		}
		switch len(out) {
		case 0:
			return All{}
		case 1:
			return out[0]
		}
		return out
	case Or:
		out := make(Or, 0, len(v))
		for _, c := range v {
			c = Simplify(c)
			switch c.(type) {
			case All:
				return All{}
			case None:
				continue
			}
			out = append(out, c)
		}
		switch len(out) {
		case 0:
			return None{}
		case 1:
			return out[0]
		}
		return out
	case Not:
		inner := Simplify(v.Filter)
		switch inner.(type) {
		case All:
			return None{}
		case None:
			return All{}
		}
		return Not{Filter: inner}
	case ElemMatch:
		return ElemMatch{Path: v.Path, Match: Simplify(v.Match)}
	}
	return f
}
