// Package api holds the typed configuration of the catalog: which fields are
// authority-controlled, which logical fields exist, and which tags get a
// side term index.
package api

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// RecordType distinguishes bibliographic from authority records.
type RecordType string

const (
	Bib  RecordType = "bib"
	Auth RecordType = "auth"
)

// RecordTypes lists every record type in a stable order.
var RecordTypes = []RecordType{Bib, Auth}

// Valid reports whether rt is a known record type.
func (rt RecordType) Valid() bool { return rt == Bib || rt == Auth }

// Collection is the store collection holding live records of rt.
func (rt RecordType) Collection() string { return string(rt) + "s" }

// HistoryCollection holds the append-only history of rt records.
func (rt RecordType) HistoryCollection() string { return string(rt) + "_history" }

// IndexCollection is the side term index of a tag or logical field.
func (rt RecordType) IndexCollection(field string) string {
	return string(rt) + "_index_" + field
}

// Counter names the id sequence of rt.
func (rt RecordType) Counter() string { return string(rt) + "_id" }

// Config is the decoded form of a configuration file.
type Config struct {
	RecordTypes []RecordTypeConfig `hcl:"record_type,block"`
	Catalog     *CatalogConfig     `hcl:"catalog,block"`
}

// RecordTypeConfig declares the rules for one record type.
type RecordTypeConfig struct {
	Name          string            `hcl:"name,label"`
	Controlled    []ControlledField `hcl:"controlled,block"`
	LogicalFields []LogicalField    `hcl:"logical_field,block"`
	IndexTags     []string          `hcl:"index_tags,optional"`
}

// ControlledField marks subfield codes of Tag as linked to the authority
// heading field Heading.
type ControlledField struct {
	Tag     string   `hcl:"tag,label"`
	Heading string   `hcl:"heading"`
	Codes   []string `hcl:"codes"`
}

// LogicalField is a named projection over one or more tag/subfield sets.
type LogicalField struct {
	Name    string          `hcl:"name,label"`
	Sources []LogicalSource `hcl:"source,block"`
}

// LogicalSource is one tag contributing to a logical field. Empty Codes
// means every subfield.
type LogicalSource struct {
	Tag   string   `hcl:"tag"`
	Codes []string `hcl:"codes,optional"`
}

// CatalogConfig tunes query compilation and caching.
type CatalogConfig struct {
	CandidateCeiling int `hcl:"candidate_ceiling_bytes,optional"`
	LargeCollection  int `hcl:"large_collection,optional"`
	ShortPattern     int `hcl:"short_pattern,optional"`
	CacheSize        int `hcl:"cache_size,optional"`
}

// Settings are the resolved catalog tunables.
type Settings struct {
	// CandidateCeiling caps the serialized size of a side-index candidate
	// set embedded into a query.
	CandidateCeiling int
	// LargeCollection is the record count above which short patterns skip
	// the side index.
	LargeCollection int
	// ShortPattern is the pattern length at or below which a pattern is
	// considered short.
	ShortPattern int
	// CacheSize bounds each authority lookup cache.
	CacheSize int
}

// DefaultSettings are used for every tunable the configuration leaves unset.
var DefaultSettings = Settings{
	CandidateCeiling: 1 << 20,
	LargeCollection:  100000,
	ShortPattern:     3,
	CacheSize:        10000,
}

//go:embed default.hcl
var defaultHCL []byte

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the built-in configuration. It is parsed once.
func Default() (*Table, error) {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = Parse("default.hcl", defaultHCL)
	})
	return defaultTable, defaultErr
}

// MustDefault is Default for callers that treat a broken embedded
// configuration as a programming error.
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

// LoadFile reads and validates the configuration at path.
func LoadFile(path string) (*Table, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return Compile(&cfg)
}

// Parse decodes and validates configuration source. filename selects the
// syntax (.hcl or .json) and appears in diagnostics.
func Parse(filename string, src []byte) (*Table, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, src, nil, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", filename, err)
	}
	return Compile(&cfg)
}

var (
	tagPattern   = regexp.MustCompile(`^\d{3}$`)
	codePattern  = regexp.MustCompile(`^[a-z0-9]$`)
	identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ReservedNames cannot be used as logical field names because the query
// grammar already gives them a meaning.
var ReservedNames = map[string]bool{
	"id": true, "xref": true, "created": true, "updated": true,
	"user": true, "created_user": true, "text": true, "words": true,
}

// Compile validates cfg and builds the lookup tables.
func Compile(cfg *Config) (*Table, error) {
	t := &Table{
		heading:  make(map[controlKey]string),
		codes:    make(map[typeTag][]string),
		logical:  make(map[RecordType]map[string][]LogicalSource),
		index:    make(map[RecordType][]string),
		Settings: DefaultSettings,
	}
	seen := make(map[RecordType]bool)
	for _, rc := range cfg.RecordTypes {
		rt := RecordType(rc.Name)
		if !rt.Valid() {
			return nil, fmt.Errorf("config: unknown record type %q", rc.Name)
		}
		if seen[rt] {
			return nil, fmt.Errorf("config: record type %q declared twice", rc.Name)
		}
		seen[rt] = true

		for _, cf := range rc.Controlled {
			if !tagPattern.MatchString(cf.Tag) {
				return nil, fmt.Errorf("config: %s: invalid controlled tag %q", rt, cf.Tag)
			}
			if !tagPattern.MatchString(cf.Heading) || cf.Heading[0] != '1' {
				return nil, fmt.Errorf("config: %s %s: heading tag %q must be a 1XX tag", rt, cf.Tag, cf.Heading)
			}
			if len(cf.Codes) == 0 {
				return nil, fmt.Errorf("config: %s %s: no controlled codes", rt, cf.Tag)
			}
			tt := typeTag{rt, cf.Tag}
			if _, dup := t.codes[tt]; dup {
				return nil, fmt.Errorf("config: %s %s: controlled twice", rt, cf.Tag)
			}
			for _, code := range cf.Codes {
				if !codePattern.MatchString(code) {
					return nil, fmt.Errorf("config: %s %s: invalid subfield code %q", rt, cf.Tag, code)
				}
				t.heading[controlKey{rt, cf.Tag, code}] = cf.Heading
			}
			t.codes[tt] = append([]string(nil), cf.Codes...)
		}

		fields := make(map[string][]LogicalSource)
		for _, lf := range rc.LogicalFields {
			if !identPattern.MatchString(lf.Name) || ReservedNames[lf.Name] {
				return nil, fmt.Errorf("config: %s: invalid logical field name %q", rt, lf.Name)
			}
			if _, dup := fields[lf.Name]; dup {
				return nil, fmt.Errorf("config: %s: logical field %q declared twice", rt, lf.Name)
			}
			if len(lf.Sources) == 0 {
				return nil, fmt.Errorf("config: %s: logical field %q has no sources", rt, lf.Name)
			}
			for _, src := range lf.Sources {
				if !tagPattern.MatchString(src.Tag) {
					return nil, fmt.Errorf("config: %s: logical field %q: invalid tag %q", rt, lf.Name, src.Tag)
				}
				for _, code := range src.Codes {
					if !codePattern.MatchString(code) {
						return nil, fmt.Errorf("config: %s: logical field %q: invalid code %q", rt, lf.Name, code)
					}
				}
			}
			fields[lf.Name] = lf.Sources
		}
		t.logical[rt] = fields

		for _, tag := range rc.IndexTags {
			if !tagPattern.MatchString(tag) {
				return nil, fmt.Errorf("config: %s: invalid index tag %q", rt, tag)
			}
		}
		t.index[rt] = append([]string(nil), rc.IndexTags...)
	}

	if c := cfg.Catalog; c != nil {
		if c.CandidateCeiling > 0 {
			t.Settings.CandidateCeiling = c.CandidateCeiling
		}
		if c.LargeCollection > 0 {
			t.Settings.LargeCollection = c.LargeCollection
		}
		if c.ShortPattern > 0 {
			t.Settings.ShortPattern = c.ShortPattern
		}
		if c.CacheSize > 0 {
			t.Settings.CacheSize = c.CacheSize
		}
	}
	return t, nil
}

type controlKey struct {
	rt   RecordType
	tag  string
	code string
}

type typeTag struct {
	rt  RecordType
	tag string
}

// Table is the validated, read-only form of a Config.
type Table struct {
	heading  map[controlKey]string
	codes    map[typeTag][]string
	logical  map[RecordType]map[string][]LogicalSource
	index    map[RecordType][]string
	Settings Settings
}

// HeadingTag returns the authority heading tag that (rt, tag, code) links
// to, if the combination is controlled.
func (t *Table) HeadingTag(rt RecordType, tag, code string) (string, bool) {
	h, ok := t.heading[controlKey{rt, tag, code}]
	return h, ok
}

// IsControlled reports whether (rt, tag, code) stores xrefs.
func (t *Table) IsControlled(rt RecordType, tag, code string) bool {
	_, ok := t.heading[controlKey{rt, tag, code}]
	return ok
}

// ControlledCodes returns the controlled subfield codes of tag.
func (t *Table) ControlledCodes(rt RecordType, tag string) []string {
	return t.codes[typeTag{rt, tag}]
}

// ControlledTags returns every controlled tag of rt, sorted.
func (t *Table) ControlledTags(rt RecordType) []string {
	var tags []string
	for k := range t.codes {
		if k.rt == rt {
			tags = append(tags, k.tag)
		}
	}
	sort.Strings(tags)
	return tags
}

// TagsForHeading returns the controlled tags of rt whose subfields link to
// heading, sorted.
func (t *Table) TagsForHeading(rt RecordType, heading string) []string {
	set := make(map[string]bool)
	for k, h := range t.heading {
		if k.rt == rt && h == heading {
			set[k.tag] = true
		}
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// LogicalField returns the sources of a logical field.
func (t *Table) LogicalField(rt RecordType, name string) ([]LogicalSource, bool) {
	src, ok := t.logical[rt][name]
	return src, ok
}

// LogicalFields returns the logical field names of rt, sorted.
func (t *Table) LogicalFields(rt RecordType) []string {
	names := make([]string, 0, len(t.logical[rt]))
	for n := range t.logical[rt] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IndexTags returns the tags that get a side term index.
func (t *Table) IndexTags(rt RecordType) []string {
	return t.index[rt]
}
