package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
)

var (
	// TAG, optional two indicators, optional subfield code.
	fieldTerm = regexp.MustCompile(`^(\d{3})([0-9_\\#]{2})?([a-z0-9])?:(.*)$`)
	dateTerm  = regexp.MustCompile(`^(created|updated)([:<>])(.*)$`)
	userTerm  = regexp.MustCompile(`^(created_user|user):(.*)$`)
	namedTerm = regexp.MustCompile(`^([a-z][a-z0-9_]*):(.*)$`)
)

// Parse reads a query string. rt selects the logical field names that are
// recognized; when empty, bib names are used and the query keeps an empty
// type for the compiler to default.
func Parse(src string, rt api.RecordType, table *api.Table) (*Query, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	lookup := rt
	if lookup == "" {
		lookup = api.Bib
	}
	p := &parser{src: src, toks: toks, rt: lookup, table: table}
	clauses, err := p.sequence()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, invalid(src, p.peek().pos, "unexpected %s", p.peek().kind)
	}
	if len(clauses) == 0 {
		return nil, invalid(src, -1, "empty query")
	}
	return &Query{Type: rt, Clauses: clauses}, nil
}

// MustParse is Parse for queries known to be valid.
func MustParse(src string, rt api.RecordType, table *api.Table) *Query {
	q, err := Parse(src, rt, table)
	if err != nil {
		panic(err)
	}
	return q
}

type parser struct {
	src   string
	toks  []token
	pos   int
	rt    api.RecordType
	table *api.Table
}

func (p *parser) eof() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.eof() {
		return token{kind: tokTerm, pos: len(p.src)}
	}
	return p.toks[p.pos]
}

func (p *parser) next() (token, bool) {
	if p.eof() {
		return token{}, false
	}
	t := p.toks[p.pos]
	p.pos++
	return t, true
}

// sequence parses operands joined by AND or by adjacency, up to the end of
// input or a closing parenthesis.
func (p *parser) sequence() ([]Clause, error) {
	var out []Clause
	for !p.eof() && p.peek().kind != tokClose {
		afterOp := len(out) == 0
		if len(out) > 0 && p.peek().kind == tokAnd {
			p.pos++
			afterOp = true
		}
		c, err := p.alternatives(afterOp)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// alternatives collects operands while OR keeps appearing.
func (p *parser) alternatives(notAllowed bool) (Clause, error) {
	first, err := p.unary(notAllowed)
	if err != nil {
		return nil, err
	}
	items := []Clause{first}
	for !p.eof() && p.peek().kind == tokOr {
		p.pos++
		c, err := p.unary(true)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if len(items) == 1 {
		return first, nil
	}
	return Or(items), nil
}

func (p *parser) unary(notAllowed bool) (Clause, error) {
	t, ok := p.next()
	if !ok {
		return nil, invalid(p.src, len(p.src), "expected a term")
	}
	switch t.kind {
	case tokTerm:
		return p.term(t)
	case tokOpen:
		return p.group(t)
	case tokNot:
		if !notAllowed {
			return nil, invalid(p.src, t.pos, "NOT must follow AND or OR")
		}
		n, ok := p.next()
		if !ok {
			return nil, invalid(p.src, len(p.src), "NOT must be followed by a term")
		}
		switch n.kind {
		case tokOpen:
			g, err := p.group(n)
			if err != nil {
				return nil, err
			}
			return Not{Clause: g}, nil
		case tokTerm:
			c, err := p.term(n)
			if err != nil {
				return nil, err
			}
			if _, free := c.(Text); free {
				return nil, invalid(p.src, n.pos, "NOT must be followed by a field-qualified term")
			}
			return negate(c), nil
		}
		return nil, invalid(p.src, n.pos, "NOT must be followed by a term, not %s", n.kind)
	}
	return nil, invalid(p.src, t.pos, "unexpected %s", t.kind)
}

func (p *parser) group(open token) (Clause, error) {
	clauses, err := p.sequence()
	if err != nil {
		return nil, err
	}
	t, ok := p.next()
	if !ok || t.kind != tokClose {
		return nil, invalid(p.src, open.pos, "unbalanced parenthesis")
	}
	switch len(clauses) {
	case 0:
		return nil, invalid(p.src, open.pos, "empty group")
	case 1:
		return clauses[0], nil
	}
	return And(clauses), nil
}

func negate(c Clause) Clause {
	if cond, ok := c.(*Condition); ok {
		n := *cond
		switch cond.Modifier {
		case Match:
			n.Modifier = Negate
		case Negate:
			n.Modifier = Match
		case Exists:
			n.Modifier = NotExists
		case NotExists:
			n.Modifier = Exists
		}
		return &n
	}
	return Not{Clause: c}
}

// term classifies one term, trying the forms in a fixed order.
func (p *parser) term(t token) (Clause, error) {
	s := t.text
	if m := fieldTerm.FindStringSubmatch(s); m != nil {
		return p.field(t, m[1], m[2], m[3], m[4])
	}
	if m := dateTerm.FindStringSubmatch(s); m != nil {
		d, err := time.Parse("2006-01-02", m[3])
		if err != nil {
			return nil, invalid(p.src, t.pos, "invalid date %q, want YYYY-MM-DD", m[3])
		}
		return AuditDate{Field: m[1], Op: DateOp(m[2][0]), Date: d}, nil
	}
	if m := userTerm.FindStringSubmatch(s); m != nil {
		v, err := p.value(t, m[2])
		if err != nil {
			return nil, err
		}
		return AuditUser{Field: m[1], Value: v}, nil
	}
	if m := namedTerm.FindStringSubmatch(s); m != nil {
		switch m[1] {
		case "id":
			n, err := p.number(t, m[2])
			if err != nil {
				return nil, err
			}
			return IDMatch{ID: n}, nil
		case "xref":
			n, err := p.number(t, m[2])
			if err != nil {
				return nil, err
			}
			return XrefMatch{Xref: n}, nil
		}
		if _, ok := p.table.LogicalField(p.rt, m[1]); !ok {
			return nil, invalid(p.src, t.pos, "unknown logical field %q", m[1])
		}
		v, err := p.value(t, m[2])
		if err != nil {
			return nil, err
		}
		return LogicalField{Name: m[1], Value: v}, nil
	}
	return p.freeText(t)
}

func (p *parser) field(t token, tag, inds, code, raw string) (Clause, error) {
	if tag == "001" && code == "" {
		n, err := p.number(t, raw)
		if err != nil {
			return nil, err
		}
		return IDMatch{ID: n}, nil
	}
	v, err := p.value(t, raw)
	if err != nil {
		return nil, err
	}
	if marc.IsControlTag(tag) && (code != "" || inds != "") {
		return nil, invalid(p.src, t.pos, "control field %s has no indicators or subfields", tag)
	}
	c := &Condition{Tag: tag, Subfields: []SubfieldValue{{Code: code, Value: v}}}
	if inds != "" {
		c.Ind1, c.Ind2 = indicatorChar(inds[0]), indicatorChar(inds[1])
	}
	if _, ok := v.(AnyValue); ok {
		c.Modifier = Exists
	}
	return c, nil
}

func indicatorChar(c byte) string {
	switch c {
	case '_', '\\', '#':
		return " "
	}
	return string(c)
}

func (p *parser) number(t token, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, invalid(p.src, t.pos, "%q is not a record id", raw)
	}
	return n, nil
}

// value reads the value forms: *, 'exact', /regex/[i], "phrase",
// word*card and free text.
func (p *parser) value(t token, raw string) (Value, error) {
	switch {
	case raw == "":
		return nil, invalid(p.src, t.pos, "missing value")
	case raw == "*":
		return AnyValue{}, nil
	case raw[0] == '\'':
		if len(raw) < 2 || raw[len(raw)-1] != '\'' {
			return nil, invalid(p.src, t.pos, "text after closing quote")
		}
		return Exact(raw[1 : len(raw)-1]), nil
	case raw[0] == '/':
		body, flags, ok := cutRegex(raw)
		if !ok {
			return nil, invalid(p.src, t.pos, "text after closing slash")
		}
		pat := Pattern{Regex: body, IgnoreCase: flags == "i"}
		if _, err := filter.CompileRegex(pat.Regex, pat.IgnoreCase); err != nil {
			return nil, invalid(p.src, t.pos, "bad regex: %v", err)
		}
		return pat, nil
	case raw[0] == '"':
		if len(raw) < 2 || raw[len(raw)-1] != '"' {
			return nil, invalid(p.src, t.pos, "text after closing quote")
		}
		return FreeText{Text: raw[1 : len(raw)-1], Phrase: true}, nil
	case strings.Contains(raw, "*"):
		return Wildcard(raw), nil
	}
	return FreeText{Text: raw}, nil
}

func cutRegex(raw string) (body, flags string, ok bool) {
	switch {
	case len(raw) >= 2 && strings.HasSuffix(raw, "/"):
		return raw[1 : len(raw)-1], "", true
	case len(raw) >= 3 && strings.HasSuffix(raw, "/i"):
		return raw[1 : len(raw)-2], "i", true
	}
	return "", "", false
}

// Wildcard turns word*card into a case-insensitive pattern. Literal parts
// are escaped; the pattern is anchored at each end the value does not
// start or end with a star.
func Wildcard(raw string) Pattern {
	parts := strings.Split(raw, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re := strings.Join(parts, ".*")
	if !strings.HasPrefix(raw, "*") {
		re = "^" + re
	} else {
		re = strings.TrimPrefix(re, ".*")
	}
	if !strings.HasSuffix(raw, "*") {
		re += "$"
	} else {
		re = strings.TrimSuffix(re, ".*")
	}
	return Pattern{Regex: re, IgnoreCase: true, Wildcard: true}
}

func (p *parser) freeText(t token) (Clause, error) {
	s := t.text
	neg := false
	if len(s) > 1 && s[0] == '-' {
		neg, s = true, s[1:]
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return Text{Value: FreeText{Text: s[1 : len(s)-1], Phrase: true}, Negated: neg}, nil
	}
	return Text{Value: FreeText{Text: s}, Negated: neg}, nil
}
