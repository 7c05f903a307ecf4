package query

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/index"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/text"
	"github.com/ohler55/ojg/oj"
	"github.com/rs/zerolog"
)

// Authorities is the part of the authority resolver the compiler widens
// literal values with.
type Authorities interface {
	Lookup(xref int, code, language string) (string, error)
	XLookup(rt api.RecordType, tag, code, value string) ([]int, error)
	XLookupRegex(rt api.RecordType, tag, code, pattern string, ignoreCase bool) ([]int, error)
}

// Compiler turns queries into store filters. Compilation reads the store:
// authority values are resolved and side indexes consulted at compile
// time, so a compiled filter reflects the data as of that moment.
type Compiler struct {
	store    store.Store
	table    *api.Table
	auths    Authorities
	log      zerolog.Logger
	settings api.Settings
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithLogger sets the compiler's logger.
func WithLogger(l zerolog.Logger) CompilerOption { return func(c *Compiler) { c.log = l } }

// WithSettings overrides the table's catalog settings.
func WithSettings(s api.Settings) CompilerOption { return func(c *Compiler) { c.settings = s } }

// NewCompiler returns a compiler over s. auths may be nil, in which case
// literal values are never widened to authority links.
func NewCompiler(s store.Store, table *api.Table, auths Authorities, opts ...CompilerOption) *Compiler {
	c := &Compiler{store: s, table: table, auths: auths, log: zerolog.Nop(), settings: table.Settings}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Table returns the configuration queries are parsed against.
func (c *Compiler) Table() *api.Table { return c.table }

// Compile builds the filter for q.
func (c *Compiler) Compile(q *Query) (filter.Filter, error) {
	return c.compile(q, q.String())
}

// CompileString parses and compiles a query string.
func (c *Compiler) CompileString(src string, rt api.RecordType) (filter.Filter, error) {
	q, err := Parse(src, rt, c.table)
	if err != nil {
		return nil, err
	}
	return c.compile(q, src)
}

func (c *Compiler) compile(q *Query, src string) (filter.Filter, error) {
	rt := q.Type
	if rt == "" {
		c.log.Warn().Str("query", src).Msg("query has no record type, defaulting to bib")
		rt = api.Bib
	}
	if !rt.Valid() {
		return nil, invalid(src, -1, "unknown record type %q", rt)
	}
	st := &compilation{Compiler: c, rt: rt, src: src, size: -1}
	out := make(filter.And, 0, len(q.Clauses))
	for _, cl := range q.Clauses {
		f, err := st.clause(cl)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return filter.Simplify(out), nil
}

// compilation is the state of one Compile call.
type compilation struct {
	*Compiler
	rt   api.RecordType
	src  string
	size int // record count of rt, -1 until needed
}

func (st *compilation) clause(cl Clause) (filter.Filter, error) {
	switch v := cl.(type) {
	case *Condition:
		return st.condition(v)
	case Or:
		out := make(filter.Or, 0, len(v))
		for _, c := range v {
			f, err := st.clause(c)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	case And:
		out := make(filter.And, 0, len(v))
		for _, c := range v {
			f, err := st.clause(c)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	case Not:
		if x, ok := v.Clause.(XrefMatch); ok {
			terms := st.xrefTerms(x.Xref)
			out := make(filter.And, len(terms))
			for i, t := range terms {
				out[i] = filter.Not{Filter: t}
			}
			return out, nil
		}
		f, err := st.clause(v.Clause)
		if err != nil {
			return nil, err
		}
		return filter.Not{Filter: f}, nil
	case Text:
		return st.text(v)
	case IDMatch:
		return filter.Eq{Path: "_id", Value: int64(v.ID)}, nil
	case XrefMatch:
		return filter.Or(st.xrefTerms(v.Xref)), nil
	case AuditDate:
		return auditDate(v), nil
	case AuditUser:
		return st.auditUser(v)
	case LogicalField:
		return st.logical(v)
	case Raw:
		return v.Filter, nil
	}
	return nil, fmt.Errorf("query: unsupported clause %T", cl)
}

// xrefTerms matches xref in each controlled tag of the record type.
func (st *compilation) xrefTerms(xref int) []filter.Filter {
	tags := st.table.ControlledTags(st.rt)
	out := make([]filter.Filter, len(tags))
	for i, tag := range tags {
		out[i] = filter.ElemMatch{Path: tag, Match: subfieldIs("", filter.Eq{Path: "xref", Value: int64(xref)})}
	}
	return out
}

func (st *compilation) condition(cond *Condition) (filter.Filter, error) {
	if marc.IsControlTag(cond.Tag) {
		return st.control(cond)
	}
	var elem filter.And
	if cond.Ind1 != "" {
		elem = append(elem, filter.Eq{Path: "indicators[0]", Value: cond.Ind1})
	}
	if cond.Ind2 != "" {
		elem = append(elem, filter.Eq{Path: "indicators[1]", Value: cond.Ind2})
	}
	switch cond.Modifier {
	case Exists, NotExists:
		for _, s := range cond.Subfields {
			if s.Code != "" {
				elem = append(elem, filter.ElemMatch{Path: "subfields", Match: filter.Eq{Path: "code", Value: s.Code}})
			}
		}
		f := filter.Filter(filter.ElemMatch{Path: cond.Tag, Match: elem})
		if cond.Modifier == NotExists {
			f = filter.Not{Filter: f}
		}
		return f, nil
	}
	for _, s := range cond.Subfields {
		f, err := st.subfield(cond.Tag, s)
		if err != nil {
			return nil, err
		}
		elem = append(elem, f)
	}
	match := filter.Simplify(elem)
	f := filter.Filter(filter.None{})
	if _, none := match.(filter.None); !none {
		f = filter.ElemMatch{Path: cond.Tag, Match: match}
	}
	if cond.Modifier == Negate {
		f = filter.Not{Filter: f}
	}
	return f, nil
}

func (st *compilation) control(cond *Condition) (filter.Filter, error) {
	var f filter.Filter
	var v Value = AnyValue{}
	if len(cond.Subfields) > 0 {
		v = cond.Subfields[0].Value
	}
	switch val := v.(type) {
	case AnyValue:
		f = filter.Exists{Path: cond.Tag}
	case Exact:
		f = filter.Eq{Path: cond.Tag, Value: string(val)}
	case Pattern:
		f = filter.Regex{Path: cond.Tag, Pattern: val.Regex, IgnoreCase: val.IgnoreCase}
	case FreeText:
		f = filter.Regex{Path: cond.Tag, Pattern: regexp.QuoteMeta(val.Text), IgnoreCase: true}
	default:
		return nil, invalid(st.src, -1, "control field %s cannot hold %s", cond.Tag, v)
	}
	switch cond.Modifier {
	case Exists:
		f = filter.Exists{Path: cond.Tag}
	case NotExists:
		f = filter.Not{Filter: filter.Exists{Path: cond.Tag}}
	case Negate:
		f = filter.Not{Filter: f}
	}
	return f, nil
}

// subfieldIs matches a subfield element with code (any code when empty)
// satisfying f.
func subfieldIs(code string, f filter.Filter) filter.Filter {
	if code == "" {
		return filter.ElemMatch{Path: "subfields", Match: f}
	}
	return filter.ElemMatch{Path: "subfields", Match: filter.And{filter.Eq{Path: "code", Value: code}, f}}
}

func (st *compilation) subfield(tag string, sv SubfieldValue) (filter.Filter, error) {
	switch v := sv.Value.(type) {
	case Exact:
		return st.exact(tag, sv.Code, string(v))
	case Xref:
		return subfieldIs(sv.Code, filter.Eq{Path: "xref", Value: int64(v)}), nil
	case Pattern:
		return st.pattern(tag, sv.Code, v)
	case FreeText:
		return st.freeText(tag, sv.Code, v)
	case AnyValue:
		if sv.Code == "" {
			return filter.All{}, nil
		}
		return filter.ElemMatch{Path: "subfields", Match: filter.Eq{Path: "code", Value: sv.Code}}, nil
	}
	return nil, fmt.Errorf("query: unsupported value %T", sv.Value)
}

// linked ORs the xref alternatives into a literal subfield filter.
func linked(code string, lit filter.Filter, xrefs []any) filter.Filter {
	if len(xrefs) == 0 {
		return lit
	}
	return filter.Or{lit, subfieldIs(code, filter.In{Path: "xref", Values: xrefs})}
}

// controlledCodes returns the codes of tag a lookup under code widens
// through: code itself when controlled, every controlled code when empty.
func (st *compilation) controlledCodes(tag, code string) []string {
	if st.auths == nil {
		return nil
	}
	if code == "" {
		return st.table.ControlledCodes(st.rt, tag)
	}
	if st.table.IsControlled(st.rt, tag, code) {
		return []string{code}
	}
	return nil
}

func (st *compilation) widen(tag, code string, lookup func(code string) ([]int, error)) ([]any, error) {
	set := make(map[int]bool)
	for _, c := range st.controlledCodes(tag, code) {
		xrefs, err := lookup(c)
		if err != nil {
			return nil, fmt.Errorf("query: widen %s$%s: %w", tag, c, err)
		}
		for _, x := range xrefs {
			set[x] = true
		}
	}
	return xrefValues(set), nil
}

func xrefValues(set map[int]bool) []any {
	ids := make([]int, 0, len(set))
	for x := range set {
		ids = append(ids, x)
	}
	sort.Ints(ids)
	out := make([]any, len(ids))
	for i, x := range ids {
		out[i] = int64(x)
	}
	return out
}

func (st *compilation) exact(tag, code, value string) (filter.Filter, error) {
	lit := subfieldIs(code, filter.Eq{Path: "value", Value: value})
	xrefs, err := st.widen(tag, code, func(c string) ([]int, error) {
		return st.auths.XLookup(st.rt, tag, c, value)
	})
	if err != nil {
		return nil, err
	}
	return linked(code, lit, xrefs), nil
}

// useSide reports whether a value of length n under tag is looked up in
// the side index first. Short values skip it on large collections.
func (st *compilation) useSide(tag string, n int) (bool, error) {
	if !slices.Contains(st.table.IndexTags(st.rt), tag) {
		return false, nil
	}
	return st.useSideFor(n)
}

func (st *compilation) useSideFor(n int) (bool, error) {
	if n > st.settings.ShortPattern {
		return true, nil
	}
	if st.size < 0 {
		size, err := st.store.Count(st.rt.Collection(), filter.All{})
		if err != nil {
			return false, fmt.Errorf("query: count %s: %w", st.rt.Collection(), err)
		}
		st.size = size
	}
	return st.size <= st.settings.LargeCollection, nil
}

// candidates holds the subfield values and xrefs a side index scan found.
type candidates struct {
	values []any
	xrefs  []any
}

func (c candidates) empty() bool { return len(c.values) == 0 && len(c.xrefs) == 0 }

func (c candidates) bytes() int { return len(oj.JSON(append(append([]any{}, c.values...), c.xrefs...))) }

func (c candidates) match(code string) filter.Filter {
	var out filter.Or
	if len(c.values) > 0 {
		out = append(out, subfieldIs(code, filter.In{Path: "value", Values: c.values}))
	}
	if len(c.xrefs) > 0 {
		out = append(out, subfieldIs(code, filter.In{Path: "xref", Values: c.xrefs}))
	}
	return out
}

// sideCandidates scans the side index of tag for entries matching f and
// collects the subfields under code whose value passes keep. Linked
// subfields are checked against the current heading, since side entries
// may hold superseded heading text.
func (st *compilation) sideCandidates(tag, code string, f filter.Filter, keep func(string) bool) (candidates, error) {
	coll := st.rt.IndexCollection(tag)
	cur, err := st.store.Find(coll, f, store.FindOptions{Projection: []string{"subfields"}})
	if err != nil {
		return candidates{}, fmt.Errorf("query: scan %s: %w", coll, err)
	}
	defer func() { _ = cur.Close() }()

	values := make(map[string]bool)
	type link struct {
		code string
		xref int
	}
	links := make(map[link]bool)
	for cur.Next() {
		subs, _ := cur.Doc()["subfields"].([]any)
		for _, s := range subs {
			m, ok := s.(map[string]any)
			if !ok {
				continue
			}
			c, _ := m["code"].(string)
			v, _ := m["value"].(string)
			if code != "" && c != code {
				continue
			}
			if x, ok := m["xref"].(int64); ok {
				links[link{c, int(x)}] = true
				continue
			}
			if keep(v) {
				values[v] = true
			}
		}
	}
	if err := cur.Err(); err != nil {
		return candidates{}, fmt.Errorf("query: scan %s: %w", coll, err)
	}

	xrefs := make(map[int]bool)
	for l := range links {
		if xrefs[l.xref] {
			continue
		}
		if st.auths == nil {
			xrefs[l.xref] = true
			continue
		}
		v, err := st.auths.Lookup(l.xref, l.code, "")
		if err != nil {
			return candidates{}, fmt.Errorf("query: lookup %d: %w", l.xref, err)
		}
		if keep(v) {
			xrefs[l.xref] = true
		}
	}

	return candidates{values: sortedStrings(values), xrefs: xrefValues(xrefs)}, nil
}

func sortedStrings(set map[string]bool) []any {
	ss := make([]string, 0, len(set))
	for s := range set {
		ss = append(ss, s)
	}
	sort.Strings(ss)
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (st *compilation) pattern(tag, code string, p Pattern) (filter.Filter, error) {
	side, err := st.useSide(tag, len(p.Regex))
	if err != nil {
		return nil, err
	}
	if side {
		re, err := filter.CompileRegex(p.Regex, p.IgnoreCase)
		if err != nil {
			return nil, invalid(st.src, -1, "bad regex: %v", err)
		}
		match := subfieldIs(code, filter.Regex{Path: "value", Pattern: p.Regex, IgnoreCase: p.IgnoreCase})
		cands, err := st.sideCandidates(tag, code, match, re.MatchString)
		if err != nil {
			return nil, err
		}
		if cands.empty() {
			return filter.None{}, nil
		}
		n := cands.bytes()
		if n <= st.settings.CandidateCeiling {
			return cands.match(code), nil
		}
		st.log.Debug().Str("tag", tag).Str("pattern", p.Regex).Int("bytes", n).
			Msg("candidate set over ceiling, falling back to regex")
	}
	return st.directPattern(tag, code, p)
}

func (st *compilation) directPattern(tag, code string, p Pattern) (filter.Filter, error) {
	lit := subfieldIs(code, filter.Regex{Path: "value", Pattern: p.Regex, IgnoreCase: p.IgnoreCase})
	xrefs, err := st.widen(tag, code, func(c string) ([]int, error) {
		return st.auths.XLookupRegex(st.rt, tag, c, p.Regex, p.IgnoreCase)
	})
	if err != nil {
		return nil, err
	}
	return linked(code, lit, xrefs), nil
}

// textMatcher is a free-text value prepared for matching: a side index
// filter over the text/words projections and a predicate over raw values.
type textMatcher struct {
	side filter.Filter
	keep func(string) bool
	// direct are case-insensitive patterns that must all match a raw
	// value.
	direct []string
}

func (st *compilation) textMatcher(v FreeText) (*textMatcher, error) {
	words := text.Words(v.Text)
	scrubbed := text.Scrub(v.Text)
	if len(words) == 0 || scrubbed == "" {
		return nil, invalid(st.src, -1, "%q has no searchable words", v.Text)
	}
	if v.Phrase {
		phrase := `\b` + regexp.QuoteMeta(scrubbed) + `\b`
		re := regexp.MustCompile(phrase)
		loose := `\b` + strings.Join(quoteAll(strings.Fields(scrubbed)), `\W+`) + `\b`
		return &textMatcher{
			side:   filter.Regex{Path: index.TextKey, Pattern: phrase},
			keep:   func(s string) bool { return re.MatchString(text.Scrub(s)) },
			direct: []string{loose},
		}, nil
	}
	side := make(filter.And, len(words))
	for i, w := range words {
		side[i] = filter.Eq{Path: index.WordsKey, Value: w}
	}
	var direct []string
	for _, w := range strings.Fields(scrubbed) {
		direct = append(direct, `\b`+regexp.QuoteMeta(w)+`\b`)
	}
	return &textMatcher{
		side:   side,
		keep:   func(s string) bool { return containsAll(text.Words(s), words) },
		direct: direct,
	}, nil
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = regexp.QuoteMeta(s)
	}
	return out
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

func (st *compilation) freeText(tag, code string, v FreeText) (filter.Filter, error) {
	m, err := st.textMatcher(v)
	if err != nil {
		return nil, err
	}
	side, err := st.useSide(tag, len(v.Text))
	if err != nil {
		return nil, err
	}
	if !side {
		return st.directText(tag, code, m)
	}
	cands, err := st.sideCandidates(tag, code, m.side, m.keep)
	if err != nil {
		return nil, err
	}
	if cands.empty() {
		return filter.None{}, nil
	}
	if cands.bytes() > st.settings.CandidateCeiling {
		return nil, invalid(st.src, -1, "%s:%s matches too many values, narrow the search", tag, v)
	}
	return cands.match(code), nil
}

// directText matches every word pattern within one subfield, widened by
// the authorities whose heading matches all of them.
func (st *compilation) directText(tag, code string, m *textMatcher) (filter.Filter, error) {
	conds := make(filter.And, len(m.direct))
	for i, re := range m.direct {
		conds[i] = filter.Regex{Path: "value", Pattern: re, IgnoreCase: true}
	}
	lit := subfieldIs(code, conds)
	xrefs, err := st.widen(tag, code, func(c string) ([]int, error) {
		var hits []int
		for i, re := range m.direct {
			found, err := st.auths.XLookupRegex(st.rt, tag, c, re, true)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				hits = found
				continue
			}
			hits = slices.DeleteFunc(hits, func(x int) bool { return !slices.Contains(found, x) })
		}
		return hits, nil
	})
	if err != nil {
		return nil, err
	}
	return linked(code, lit, xrefs), nil
}

// text matches against the whole-record projections.
func (st *compilation) text(t Text) (filter.Filter, error) {
	m, err := st.textMatcher(t.Value)
	if err != nil {
		return nil, err
	}
	f := m.side
	if t.Negated {
		f = filter.Not{Filter: f}
	}
	return f, nil
}

func auditDate(d AuditDate) filter.Filter {
	y, m, dd := d.Date.Date()
	day := time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
	lo := day.Format(marc.TimeFormat)
	hi := day.AddDate(0, 0, 1).Format(marc.TimeFormat)
	switch d.Op {
	case Before:
		return filter.Range{Path: d.Field, Lt: hi}
	case After:
		return filter.Range{Path: d.Field, Gte: lo}
	}
	return filter.Range{Path: d.Field, Gte: lo, Lt: hi}
}

func (st *compilation) auditUser(u AuditUser) (filter.Filter, error) {
	switch v := u.Value.(type) {
	case AnyValue:
		return filter.Exists{Path: u.Field}, nil
	case Exact:
		return filter.Eq{Path: u.Field, Value: string(v)}, nil
	case Pattern:
		return filter.Regex{Path: u.Field, Pattern: v.Regex, IgnoreCase: v.IgnoreCase}, nil
	case FreeText:
		return filter.Regex{Path: u.Field, Pattern: "^" + regexp.QuoteMeta(v.Text) + "$", IgnoreCase: true}, nil
	}
	return nil, invalid(st.src, -1, "%s cannot match %s", u.Field, u.Value)
}

// logical matches the projection array of a logical field. Pattern and
// free-text values are resolved to whole field values through the field's
// side index.
func (st *compilation) logical(l LogicalField) (filter.Filter, error) {
	switch v := l.Value.(type) {
	case AnyValue:
		return filter.ElemMatch{Path: l.Name, Match: filter.All{}}, nil
	case Exact:
		return filter.Eq{Path: l.Name, Value: string(v)}, nil
	case Pattern:
		side, err := st.useSideFor(len(v.Regex))
		if err != nil {
			return nil, err
		}
		direct := filter.Regex{Path: l.Name, Pattern: v.Regex, IgnoreCase: v.IgnoreCase}
		if !side {
			return direct, nil
		}
		values, err := st.sideKeys(l.Name, filter.Regex{Path: "_id", Pattern: v.Regex, IgnoreCase: v.IgnoreCase})
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return filter.None{}, nil
		}
		if len(oj.JSON(values)) > st.settings.CandidateCeiling {
			st.log.Debug().Str("field", l.Name).Str("pattern", v.Regex).Msg("candidate set over ceiling, falling back to regex")
			return direct, nil
		}
		return filter.In{Path: l.Name, Values: values}, nil
	case FreeText:
		m, err := st.textMatcher(v)
		if err != nil {
			return nil, err
		}
		values, err := st.sideKeys(l.Name, m.side)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return filter.None{}, nil
		}
		if len(oj.JSON(values)) > st.settings.CandidateCeiling {
			return nil, invalid(st.src, -1, "%s:%s matches too many values, narrow the search", l.Name, v)
		}
		return filter.In{Path: l.Name, Values: values}, nil
	}
	return nil, invalid(st.src, -1, "%s cannot match %s", l.Name, l.Value)
}

// sideKeys returns the ids, that is the field texts, of the side entries
// of field matching f.
func (st *compilation) sideKeys(field string, f filter.Filter) ([]any, error) {
	coll := st.rt.IndexCollection(field)
	cur, err := st.store.Find(coll, f, store.FindOptions{Projection: []string{"_id"}, Sort: []store.SortKey{{Path: "_id"}}})
	if err != nil {
		return nil, fmt.Errorf("query: scan %s: %w", coll, err)
	}
	defer func() { _ = cur.Close() }()
	var out []any
	for cur.Next() {
		if id, ok := cur.Doc()["_id"].(string); ok {
			out = append(out, id)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("query: scan %s: %w", coll, err)
	}
	return out, nil
}
