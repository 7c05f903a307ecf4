// Package marc models bibliographic and authority records: an ordered list
// of control and data fields whose subfields are either literal text or
// links to authority records.
package marc

import (
	"slices"
	"strings"
	"time"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/rs/zerolog"
)

// TimeFormat is the fixed-width UTC layout of audit timestamps. Values in
// this layout sort lexically in time order.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Authorities resolves links between records and authority headings.
// auth.Resolver is the production implementation.
type Authorities interface {
	// Lookup returns the heading value of code on authority xref, or the
	// translated heading when language is set and a translation exists.
	// Missing authorities and codes resolve to "".
	Lookup(xref int, code, language string) (string, error)
	// HeadingTag returns the heading tag of authority xref, or "" if the
	// authority does not exist.
	HeadingTag(xref int) (string, error)
	// XLookup returns every authority whose heading (implied by rt, tag
	// and code) carries value in code.
	XLookup(rt api.RecordType, tag, code, value string) ([]int, error)
	// XLookupMulti is XLookup over several codes at once; an authority
	// matches when every given subfield matches.
	XLookupMulti(rt api.RecordType, tag string, subs []Literal) ([]int, error)
}

// Field is a Controlfield or a Datafield.
type Field interface {
	FieldTag() string
	isField()
}

// Controlfield holds the raw value of a 00X tag. Tag "000" is the leader.
type Controlfield struct {
	Tag   string
	Value string
}

// Datafield is a tagged field with two indicators and ordered subfields.
type Datafield struct {
	Tag       string
	Ind1      string
	Ind2      string
	Subfields []Subfield
}

func (f *Controlfield) FieldTag() string { return f.Tag }
func (f *Datafield) FieldTag() string    { return f.Tag }
func (*Controlfield) isField()           {}
func (*Datafield) isField()              {}

// Subfield is a Literal or a Linked subfield.
type Subfield interface {
	SubfieldCode() string
	isSubfield()
}

// Literal is a subfield that stores its text.
type Literal struct {
	Code  string
	Value string
}

// Linked is a subfield whose text is the heading of authority Xref.
type Linked struct {
	Code string
	Xref int
}

func (s Literal) SubfieldCode() string { return s.Code }
func (s Linked) SubfieldCode() string  { return s.Code }
func (Literal) isSubfield()            {}
func (Linked) isSubfield()             {}

// IsControlTag reports whether tag names a control field.
func IsControlTag(tag string) bool { return strings.HasPrefix(tag, "00") }

// NewDatafield returns a field with blank indicators.
func NewDatafield(tag string, subs ...Subfield) *Datafield {
	return &Datafield{Tag: tag, Ind1: " ", Ind2: " ", Subfields: subs}
}

// Get returns the place-th subfield with code.
func (f *Datafield) Get(code string, place int) Subfield {
	n := 0
	for _, s := range f.Subfields {
		if s.SubfieldCode() != code {
			continue
		}
		if n == place {
			return s
		}
		n++
	}
	return nil
}

// Xrefs returns the distinct xrefs linked from f, in order.
func (f *Datafield) Xrefs() []int {
	var out []int
	for _, s := range f.Subfields {
		if l, ok := s.(Linked); ok && !slices.Contains(out, l.Xref) {
			out = append(out, l.Xref)
		}
	}
	return out
}

// Equal reports structural equality of indicators and subfields.
func (f *Datafield) Equal(o *Datafield) bool {
	if f.Tag != o.Tag || indicator(f.Ind1) != indicator(o.Ind1) || indicator(f.Ind2) != indicator(o.Ind2) {
		return false
	}
	if len(f.Subfields) != len(o.Subfields) {
		return false
	}
	for i := range f.Subfields {
		if f.Subfields[i] != o.Subfields[i] {
			return false
		}
	}
	return true
}

func (f *Datafield) clone() *Datafield {
	cp := *f
	cp.Subfields = append([]Subfield(nil), f.Subfields...)
	return &cp
}

func indicator(s string) string {
	if s == "" {
		return " "
	}
	return s
}

// Record is one bibliographic or authority record.
type Record struct {
	Type        api.RecordType
	ID          int // zero until first commit
	Fields      []Field
	Created     time.Time
	CreatedUser string
	Updated     time.Time
	User        string

	auths Authorities
	table *api.Table
	log   zerolog.Logger
}

// Option configures a Record.
type Option func(*Record)

// WithAuthorities sets the service used to resolve and validate links.
func WithAuthorities(a Authorities) Option { return func(r *Record) { r.auths = a } }

// WithTable sets the authority control table. The built-in table is used
// by default.
func WithTable(t *api.Table) Option { return func(r *Record) { r.table = t } }

// WithLogger sets the record's logger.
func WithLogger(l zerolog.Logger) Option { return func(r *Record) { r.log = l } }

// New returns an empty record of type rt.
func New(rt api.RecordType, opts ...Option) *Record {
	r := &Record{Type: rt, log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	if r.table == nil {
		r.table = api.MustDefault()
	}
	return r
}

// Bind attaches services to a record built elsewhere (decoded or cloned).
func (r *Record) Bind(opts ...Option) *Record {
	for _, o := range opts {
		o(r)
	}
	if r.table == nil {
		r.table = api.MustDefault()
	}
	return r
}

// Table returns the record's authority control table.
func (r *Record) Table() *api.Table { return r.table }

// Authorities returns the record's link resolver, which may be nil.
func (r *Record) Authorities() Authorities { return r.auths }

// Clone returns a deep copy sharing the record's services.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Fields = make([]Field, len(r.Fields))
	for i, f := range r.Fields {
		switch v := f.(type) {
		case *Controlfield:
			c := *v
			cp.Fields[i] = &c
		case *Datafield:
			cp.Fields[i] = v.clone()
		}
	}
	return &cp
}

// GetField returns the place-th field with tag, or nil.
func (r *Record) GetField(tag string, place int) Field {
	n := 0
	for _, f := range r.Fields {
		if f.FieldTag() != tag {
			continue
		}
		if n == place {
			return f
		}
		n++
	}
	return nil
}

// GetFields returns every field whose tag is among tags, in record order.
// No tags returns all fields.
func (r *Record) GetFields(tags ...string) []Field {
	if len(tags) == 0 {
		return append([]Field(nil), r.Fields...)
	}
	var out []Field
	for _, f := range r.Fields {
		for _, t := range tags {
			if f.FieldTag() == t {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Datafields returns the data fields with tag, or every data field when
// tag is empty.
func (r *Record) Datafields(tag string) []*Datafield {
	var out []*Datafield
	for _, f := range r.Fields {
		if d, ok := f.(*Datafield); ok && (tag == "" || d.Tag == tag) {
			out = append(out, d)
		}
	}
	return out
}

// Tags returns the distinct tags of the record in first-seen order.
func (r *Record) Tags() []string {
	var tags []string
	seen := make(map[string]bool)
	for _, f := range r.Fields {
		if !seen[f.FieldTag()] {
			seen[f.FieldTag()] = true
			tags = append(tags, f.FieldTag())
		}
	}
	return tags
}

// DeleteField removes the place-th field with tag. Missing fields are
// ignored.
func (r *Record) DeleteField(tag string, place int) {
	n := 0
	for i, f := range r.Fields {
		if f.FieldTag() != tag {
			continue
		}
		if n == place {
			r.Fields = append(r.Fields[:i], r.Fields[i+1:]...)
			return
		}
		n++
	}
}

// DeleteFields removes every field with any of tags.
func (r *Record) DeleteFields(tags ...string) {
	drop := make(map[string]bool, len(tags))
	for _, t := range tags {
		drop[t] = true
	}
	kept := r.Fields[:0]
	for _, f := range r.Fields {
		if !drop[f.FieldTag()] {
			kept = append(kept, f)
		}
	}
	r.Fields = kept
}

// Heading returns the first 1XX data field, the heading of an authority.
func (r *Record) Heading() *Datafield {
	for _, f := range r.Fields {
		if d, ok := f.(*Datafield); ok && strings.HasPrefix(d.Tag, "1") {
			return d
		}
	}
	return nil
}

// HeadingValue returns the text of code in the heading, resolving links.
func (r *Record) HeadingValue(code string) string {
	h := r.Heading()
	if h == nil {
		return ""
	}
	if s := h.Get(code, 0); s != nil {
		return r.resolve(s, "")
	}
	return ""
}

// LocalizedHeadingValue returns the heading text of code in language. A
// translation is stored in a field tagged 9 followed by the heading tag's
// last two digits, with the language in subfield 9. Falls back to the
// heading itself.
func (r *Record) LocalizedHeadingValue(code, language string) string {
	h := r.Heading()
	if h == nil {
		return ""
	}
	if language != "" {
		for _, d := range r.Datafields("9" + h.Tag[1:]) {
			if l, ok := d.Get("9", 0).(Literal); ok && strings.EqualFold(l.Value, language) {
				if s := d.Get(code, 0); s != nil {
					return r.resolve(s, "")
				}
			}
		}
	}
	return r.HeadingValue(code)
}

// Xrefs returns every authority id linked from the record.
func (r *Record) Xrefs() []int {
	var out []int
	for _, d := range r.Datafields("") {
		for _, x := range d.Xrefs() {
			if !slices.Contains(out, x) {
				out = append(out, x)
			}
		}
	}
	return out
}

// LeaderOrDefault returns the leader, or 24 blanks when there is none.
func (r *Record) LeaderOrDefault() string {
	if c, ok := r.GetField("000", 0).(*Controlfield); ok {
		return c.Value
	}
	return strings.Repeat(" ", 24)
}
