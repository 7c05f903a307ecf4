// Package auth resolves links between records and authority headings in
// both directions, caching the answers until an authority changes.
package auth

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultPartialLimit caps PartialLookup results when no limit is given.
const DefaultPartialLimit = 50

// Match is one PartialLookup hit.
type Match struct {
	Value string
	Xref  int
}

// Stats reports cache effectiveness since the last Reset.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

type valueKey struct {
	xref     int
	code     string
	language string
}

// Resolver is the single authority for turning an xref into heading text
// and heading text into xrefs. It implements marc.Authorities.
//
// All caches are dropped together by Invalidate, which the catalog calls
// whenever an authority record is committed or deleted.
type Resolver struct {
	store store.Store
	table *api.Table
	log   zerolog.Logger

	values   *lru.Cache[valueKey, string]
	headings *lru.Cache[int, string]
	reverse  *lru.Cache[string, []int]
	partial  *lru.Cache[string, []Match]

	hits, misses atomic.Int64
}

var _ marc.Authorities = (*Resolver)(nil)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(l zerolog.Logger) Option { return func(r *Resolver) { r.log = l } }

// WithCacheSize bounds each cache to n entries.
func WithCacheSize(n int) Option {
	return func(r *Resolver) { r.newCaches(n) }
}

// New returns a resolver reading authorities from s.
func New(s store.Store, table *api.Table, opts ...Option) *Resolver {
	r := &Resolver{store: s, table: table, log: zerolog.Nop()}
	r.newCaches(table.Settings.CacheSize)
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resolver) newCaches(n int) {
	r.values = newCache[valueKey, string](n)
	r.headings = newCache[int, string](n)
	r.reverse = newCache[string, []int](n)
	r.partial = newCache[string, []Match](n)
}

// Table returns the control table the resolver was built with.
func (r *Resolver) Table() *api.Table { return r.table }

// Invalidate drops every cached answer.
func (r *Resolver) Invalidate() {
	r.values.Purge()
	r.headings.Purge()
	r.reverse.Purge()
	r.partial.Purge()
	r.log.Debug().Msg("authority caches invalidated")
}

// Reset drops the caches and zeroes the statistics.
func (r *Resolver) Reset() {
	r.Invalidate()
	r.hits.Store(0)
	r.misses.Store(0)
}

// Stats returns cache counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
		Entries: r.values.Len() + r.headings.Len() + r.reverse.Len() + r.partial.Len(),
	}
}

func (r *Resolver) hit(ok bool) bool {
	if ok {
		r.hits.Add(1)
	} else {
		r.misses.Add(1)
	}
	return ok
}

// authority loads an authority record, or nil when xref does not exist.
func (r *Resolver) authority(xref int) (*marc.Record, error) {
	doc, err := r.store.Get(api.Auth.Collection(), int64(xref))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get %d: %w", xref, err)
	}
	rec, err := marc.FromDocument(api.Auth, doc, marc.WithTable(r.table), marc.WithAuthorities(r))
	if err != nil {
		return nil, fmt.Errorf("auth: decode %d: %w", xref, err)
	}
	return rec, nil
}

// Lookup returns the heading text of code in authority xref, in language
// when a translation exists. A missing authority or subfield yields "".
func (r *Resolver) Lookup(xref int, code, language string) (string, error) {
	key := valueKey{xref, code, strings.ToLower(language)}
	if v, ok := r.values.Get(key); r.hit(ok) {
		return v, nil
	}
	rec, err := r.authority(xref)
	if err != nil {
		return "", err
	}
	var v string
	if rec != nil {
		v = rec.LocalizedHeadingValue(code, language)
	}
	r.values.Add(key, v)
	return v, nil
}

// HeadingTag returns the heading tag of authority xref, or "" when it does
// not exist.
func (r *Resolver) HeadingTag(xref int) (string, error) {
	if v, ok := r.headings.Get(xref); r.hit(ok) {
		return v, nil
	}
	rec, err := r.authority(xref)
	if err != nil {
		return "", err
	}
	var tag string
	if rec != nil {
		if h := rec.Heading(); h != nil {
			tag = h.Tag
		}
	}
	r.headings.Add(xref, tag)
	return tag, nil
}

// Exists reports whether authority xref exists.
func (r *Resolver) Exists(xref int) (bool, error) {
	n, err := r.store.Count(api.Auth.Collection(), filter.Eq{Path: "_id", Value: int64(xref)})
	if err != nil {
		return false, fmt.Errorf("auth: exists %d: %w", xref, err)
	}
	return n > 0, nil
}

// XLookup returns the ids of authorities whose heading subfield code is
// exactly value, for the heading tag (rt, tag, code) links to. An
// uncontrolled combination has no matches.
func (r *Resolver) XLookup(rt api.RecordType, tag, code, value string) ([]int, error) {
	return r.XLookupMulti(rt, tag, []marc.Literal{{Code: code, Value: value}})
}

// XLookupMulti returns the authorities whose heading carries every one of
// subs at once.
func (r *Resolver) XLookupMulti(rt api.RecordType, tag string, subs []marc.Literal) ([]int, error) {
	heading, match, key, ok := r.headingMatch(rt, tag, subs)
	if !ok {
		return nil, nil
	}
	if v, ok := r.reverse.Get(key); r.hit(ok) {
		return v, nil
	}
	xrefs, err := r.ids(filter.ElemMatch{Path: heading, Match: match}, 0)
	if err != nil {
		return nil, err
	}
	r.reverse.Add(key, xrefs)
	return xrefs, nil
}

func (r *Resolver) headingMatch(rt api.RecordType, tag string, subs []marc.Literal) (string, filter.Filter, string, bool) {
	if len(subs) == 0 {
		return "", nil, "", false
	}
	var heading string
	var key strings.Builder
	match := make(filter.And, 0, len(subs))
	for _, s := range subs {
		h, ok := r.table.HeadingTag(rt, tag, s.Code)
		if !ok || (heading != "" && h != heading) {
			return "", nil, "", false
		}
		heading = h
		match = append(match, subfieldIs(s.Code, filter.Eq{Path: "value", Value: s.Value}))
		fmt.Fprintf(&key, "%s\x1f%s\x1f", s.Code, s.Value)
	}
	return heading, match, heading + "\x1e" + key.String(), true
}

func subfieldIs(code string, value filter.Filter) filter.Filter {
	return filter.ElemMatch{Path: "subfields", Match: filter.And{
		filter.Eq{Path: "code", Value: code},
		value,
	}}
}

// XLookupRegex returns the authorities whose heading subfield code matches
// pattern.
func (r *Resolver) XLookupRegex(rt api.RecordType, tag, code, pattern string, ignoreCase bool) ([]int, error) {
	heading, ok := r.table.HeadingTag(rt, tag, code)
	if !ok {
		return nil, nil
	}
	key := fmt.Sprintf("re\x1e%s\x1f%s\x1f%s\x1f%t", heading, code, pattern, ignoreCase)
	if v, ok := r.reverse.Get(key); r.hit(ok) {
		return v, nil
	}
	if _, err := filter.CompileRegex(pattern, ignoreCase); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	f := filter.ElemMatch{Path: heading, Match: subfieldIs(code,
		filter.Regex{Path: "value", Pattern: pattern, IgnoreCase: ignoreCase})}
	xrefs, err := r.ids(f, 0)
	if err != nil {
		return nil, err
	}
	r.reverse.Add(key, xrefs)
	return xrefs, nil
}

// PartialLookup finds headings whose subfield code contains substring,
// case-insensitively, for autocomplete. At most limit matches are returned,
// DefaultPartialLimit when limit is not positive.
func (r *Resolver) PartialLookup(rt api.RecordType, tag, code, substring string, limit int) ([]Match, error) {
	heading, ok := r.table.HeadingTag(rt, tag, code)
	if !ok || substring == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultPartialLimit
	}
	key := fmt.Sprintf("%s\x1f%s\x1f%s\x1f%d", heading, code, strings.ToLower(substring), limit)
	if v, ok := r.partial.Get(key); r.hit(ok) {
		return v, nil
	}

	f := filter.ElemMatch{Path: heading, Match: subfieldIs(code,
		filter.Regex{Path: "value", Pattern: regexp.QuoteMeta(substring), IgnoreCase: true})}
	cur, err := r.store.Find(api.Auth.Collection(), f, store.FindOptions{
		Limit:      limit,
		Sort:       []store.SortKey{{Path: "_id"}},
		Projection: []string{heading},
	})
	if err != nil {
		return nil, fmt.Errorf("auth: partial lookup: %w", err)
	}
	defer func() { _ = cur.Close() }()

	var out []Match
	for cur.Next() {
		doc := cur.Doc()
		id, ok := docID(doc)
		if !ok {
			continue
		}
		out = append(out, Match{Value: headingValue(doc, heading, code), Xref: id})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("auth: partial lookup: %w", err)
	}
	r.partial.Add(key, out)
	return out, nil
}

// Resolve applies the ambiguity rule to a reverse lookup: exactly one
// match is the xref, none is InvalidAuthValue, several AmbiguousAuthValue.
func (r *Resolver) Resolve(rt api.RecordType, tag, code, value string) (int, error) {
	if !r.table.IsControlled(rt, tag, code) {
		return 0, &marc.AuthError{Kind: marc.InvalidAuthField, RecordType: rt, Tag: tag, Code: code, Value: value}
	}
	xrefs, err := r.XLookup(rt, tag, code, value)
	if err != nil {
		return 0, err
	}
	switch len(xrefs) {
	case 0:
		return 0, &marc.AuthError{Kind: marc.InvalidAuthValue, RecordType: rt, Tag: tag, Code: code, Value: value}
	case 1:
		return xrefs[0], nil
	}
	return 0, &marc.AuthError{Kind: marc.AmbiguousAuthValue, RecordType: rt, Tag: tag, Code: code, Value: value, Matches: xrefs}
}

func (r *Resolver) ids(f filter.Filter, limit int) ([]int, error) {
	cur, err := r.store.Find(api.Auth.Collection(), f, store.FindOptions{Limit: limit, Projection: []string{"_id"}})
	if err != nil {
		return nil, fmt.Errorf("auth: reverse lookup: %w", err)
	}
	defer func() { _ = cur.Close() }()
	var out []int
	for cur.Next() {
		if id, ok := docID(cur.Doc()); ok {
			out = append(out, id)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("auth: reverse lookup: %w", err)
	}
	sort.Ints(out)
	return out, nil
}

func docID(doc store.Document) (int, bool) {
	switch n := doc["_id"].(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// headingValue reads subfield code of the first heading field from a raw
// document.
func headingValue(doc store.Document, heading, code string) string {
	fields, _ := doc[heading].([]any)
	if len(fields) == 0 {
		return ""
	}
	f, _ := fields[0].(map[string]any)
	subs, _ := f["subfields"].([]any)
	for _, raw := range subs {
		s, _ := raw.(map[string]any)
		if s["code"] == code {
			v, _ := s["value"].(string)
			return v
		}
	}
	return ""
}
