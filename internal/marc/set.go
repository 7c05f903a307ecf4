package marc

import (
	"fmt"
	"strings"
)

type addrMode int

const (
	addrFirst addrMode = iota
	addrNewField
	addrNewSubfield
	addrPlace
)

type setConfig struct {
	ind1, ind2 string
	noAuth     bool
	mode       addrMode
	field, sub int
}

// SetOption adjusts Set and SetXref.
type SetOption func(*setConfig)

// WithIndicators sets the target field's indicators. An empty string
// leaves that indicator unchanged.
func WithIndicators(ind1, ind2 string) SetOption {
	return func(c *setConfig) { c.ind1, c.ind2 = ind1, ind2 }
}

// WithoutAuthControl stores a literal value in an authority-controlled
// subfield without resolving it. Every use is logged at warn level.
func WithoutAuthControl() SetOption {
	return func(c *setConfig) { c.noAuth = true }
}

// AtNewField appends a new field instead of writing into field 0.
func AtNewField() SetOption {
	return func(c *setConfig) { c.mode = addrNewField }
}

// AtNewSubfield appends a subfield to the field-th field of the tag.
func AtNewSubfield(field int) SetOption {
	return func(c *setConfig) { c.mode, c.field = addrNewSubfield, field }
}

// At overwrites the sub-th subfield with the code in the field-th field of
// the tag. Addressing one past the last field or subfield appends.
func At(field, sub int) SetOption {
	return func(c *setConfig) { c.mode, c.field, c.sub = addrPlace, field, sub }
}

// Append adds fields to the end of the record without validation.
func (r *Record) Append(fields ...Field) *Record {
	r.Fields = append(r.Fields, fields...)
	return r
}

// Set writes value into subfield code of tag. By default it overwrites the
// first such subfield of the first tag field, creating either as needed.
//
// For an authority-controlled subfield the value is resolved to an xref by
// reverse lookup: no match is an InvalidAuthValue error and several matches
// an AmbiguousAuthValue error, in which case pass the xref with SetXref or
// use AddDatafield with qualifying subfields.
//
// Setting an empty value with no indicators is a no-op.
func (r *Record) Set(tag, code, value string, opts ...SetOption) error {
	cfg := newSetConfig(opts)
	if value == "" && cfg.ind1 == "" && cfg.ind2 == "" {
		return nil
	}
	if IsControlTag(tag) {
		return r.setControl(tag, value, cfg)
	}
	var sub Subfield
	if value != "" {
		var err error
		if sub, err = r.literalSubfield(tag, code, value, cfg); err != nil {
			return err
		}
	}
	return r.place(tag, code, sub, cfg)
}

// SetXref links subfield code of tag to authority xref. The xref must exist
// and its heading tag must be the one the field is controlled by.
func (r *Record) SetXref(tag, code string, xref int, opts ...SetOption) error {
	cfg := newSetConfig(opts)
	if cfg.noAuth {
		r.logBypass(tag, code, fmt.Sprint(xref))
	} else if err := r.CheckXref(tag, code, xref); err != nil {
		return err
	}
	return r.place(tag, code, Linked{Code: code, Xref: xref}, cfg)
}

// CheckXref validates a link from (tag, code) to authority xref.
func (r *Record) CheckXref(tag, code string, xref int) error {
	heading, ok := r.table.HeadingTag(r.Type, tag, code)
	if !ok {
		return &AuthError{Kind: InvalidAuthField, RecordType: r.Type, Tag: tag, Code: code, Xref: xref,
			Detail: "subfield is not authority-controlled"}
	}
	if r.auths == nil {
		return &AuthError{Kind: InvalidAuthXref, RecordType: r.Type, Tag: tag, Code: code, Xref: xref,
			Detail: "no authority resolver"}
	}
	actual, err := r.auths.HeadingTag(xref)
	if err != nil {
		return fmt.Errorf("check xref %d: %w", xref, err)
	}
	if actual == "" {
		return &AuthError{Kind: InvalidAuthXref, RecordType: r.Type, Tag: tag, Code: code, Xref: xref}
	}
	if actual != heading {
		return &AuthError{Kind: InvalidAuthField, RecordType: r.Type, Tag: tag, Code: code, Xref: xref,
			Detail: fmt.Sprintf("authority %d has heading %s, expected %s", xref, actual, heading)}
	}
	return nil
}

// AddDatafield appends a new field built from subs. Controlled subfields
// are resolved together, so qualifying values (a name plus dates, say)
// disambiguate headings that share their main entry.
func (r *Record) AddDatafield(tag, ind1, ind2 string, subs []Literal, opts ...SetOption) error {
	cfg := newSetConfig(opts)
	field := &Datafield{Tag: tag, Ind1: indicator(ind1), Ind2: indicator(ind2)}

	var controlled []Literal
	for _, s := range subs {
		if r.table.IsControlled(r.Type, tag, s.Code) {
			controlled = append(controlled, s)
		}
	}
	var xref int
	if len(controlled) > 0 && !cfg.noAuth {
		xrefs, err := r.xlookupMulti(tag, controlled)
		if err != nil {
			return err
		}
		if err := r.checkMatches(tag, controlled, xrefs); err != nil {
			return err
		}
		xref = xrefs[0]
	} else if len(controlled) > 0 {
		for _, s := range controlled {
			r.logBypass(tag, s.Code, s.Value)
		}
	}

	for _, s := range subs {
		if xref != 0 && r.table.IsControlled(r.Type, tag, s.Code) {
			field.Subfields = append(field.Subfields, Linked{Code: s.Code, Xref: xref})
			continue
		}
		field.Subfields = append(field.Subfields, s)
	}
	r.Fields = append(r.Fields, field)
	return nil
}

// Link resolves the literal values of controlled subfields, as parsed from
// an interchange format, into links. Each field is resolved on its own with
// its controlled subfields together; resolution stops at the first field
// that fails.
func (r *Record) Link() error {
	for _, d := range r.Datafields("") {
		var controlled []Literal
		for _, s := range d.Subfields {
			if l, ok := s.(Literal); ok && r.table.IsControlled(r.Type, d.Tag, l.Code) {
				controlled = append(controlled, l)
			}
		}
		if len(controlled) == 0 {
			continue
		}
		xrefs, err := r.xlookupMulti(d.Tag, controlled)
		if err != nil {
			return err
		}
		if err := r.checkMatches(d.Tag, controlled, xrefs); err != nil {
			return err
		}
		for i, s := range d.Subfields {
			if l, ok := s.(Literal); ok && r.table.IsControlled(r.Type, d.Tag, l.Code) {
				d.Subfields[i] = Linked{Code: l.Code, Xref: xrefs[0]}
			}
		}
	}
	return nil
}

func newSetConfig(opts []SetOption) *setConfig {
	c := &setConfig{}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (r *Record) logBypass(tag, code, value string) {
	if !r.table.IsControlled(r.Type, tag, code) {
		return
	}
	r.log.Warn().Str("record_type", string(r.Type)).Int("id", r.ID).
		Str("tag", tag).Str("code", code).Str("value", value).
		Msg("authority control bypassed")
}

// literalSubfield turns a text value into the subfield to store, resolving
// it to a link when the subfield is controlled.
func (r *Record) literalSubfield(tag, code, value string, cfg *setConfig) (Subfield, error) {
	if !r.table.IsControlled(r.Type, tag, code) {
		return Literal{Code: code, Value: value}, nil
	}
	if cfg.noAuth {
		r.logBypass(tag, code, value)
		return Literal{Code: code, Value: value}, nil
	}
	lit := []Literal{{Code: code, Value: value}}
	xrefs, err := r.xlookupMulti(tag, lit)
	if err != nil {
		return nil, err
	}
	if err := r.checkMatches(tag, lit, xrefs); err != nil {
		return nil, err
	}
	return Linked{Code: code, Xref: xrefs[0]}, nil
}

func (r *Record) xlookupMulti(tag string, subs []Literal) ([]int, error) {
	if r.auths == nil {
		return nil, &AuthError{Kind: InvalidAuthValue, RecordType: r.Type, Tag: tag, Code: subs[0].Code,
			Value: subs[0].Value, Detail: "no authority resolver"}
	}
	if len(subs) == 1 {
		return r.auths.XLookup(r.Type, tag, subs[0].Code, subs[0].Value)
	}
	return r.auths.XLookupMulti(r.Type, tag, subs)
}

func (r *Record) checkMatches(tag string, subs []Literal, xrefs []int) error {
	codes := make([]string, len(subs))
	values := make([]string, len(subs))
	for i, s := range subs {
		codes[i], values[i] = s.Code, s.Value
	}
	switch len(xrefs) {
	case 0:
		return &AuthError{Kind: InvalidAuthValue, RecordType: r.Type, Tag: tag,
			Code: strings.Join(codes, ""), Value: strings.Join(values, " ")}
	case 1:
		return nil
	}
	return &AuthError{Kind: AmbiguousAuthValue, RecordType: r.Type, Tag: tag,
		Code: strings.Join(codes, ""), Value: strings.Join(values, " "), Matches: xrefs}
}

func (r *Record) setControl(tag, value string, cfg *setConfig) error {
	var target *Controlfield
	n := 0
	want := 0
	if cfg.mode == addrPlace || cfg.mode == addrNewSubfield {
		want = cfg.field
	}
	for _, f := range r.Fields {
		c, ok := f.(*Controlfield)
		if !ok || c.Tag != tag {
			continue
		}
		if n == want && cfg.mode != addrNewField {
			target = c
			break
		}
		n++
	}
	if target == nil {
		if cfg.mode != addrNewField && want > n {
			return fmt.Errorf("%w: %s[%d]", ErrInvalidAddress, tag, want)
		}
		r.Fields = append(r.Fields, &Controlfield{Tag: tag, Value: value})
		return nil
	}
	target.Value = value
	return nil
}

// place writes sub into the field the address selects. A nil sub only
// applies indicators. Nothing is modified when the address is invalid.
func (r *Record) place(tag, code string, sub Subfield, cfg *setConfig) error {
	fields := r.Datafields(tag)
	i := 0
	switch cfg.mode {
	case addrNewField:
		i = len(fields)
	case addrNewSubfield, addrPlace:
		i = cfg.field
	}
	if i > len(fields) || i < 0 {
		return fmt.Errorf("%w: %s[%d]", ErrInvalidAddress, tag, i)
	}
	var f *Datafield
	if i < len(fields) {
		f = fields[i]
	} else {
		f = NewDatafield(tag)
	}

	if sub != nil {
		if err := writeSubfield(f, code, sub, cfg); err != nil {
			return err
		}
	}
	if cfg.ind1 != "" {
		f.Ind1 = cfg.ind1
	}
	if cfg.ind2 != "" {
		f.Ind2 = cfg.ind2
	}
	if i == len(fields) {
		r.Fields = append(r.Fields, f)
	}
	return nil
}

func writeSubfield(f *Datafield, code string, sub Subfield, cfg *setConfig) error {
	if cfg.mode == addrNewField || cfg.mode == addrNewSubfield {
		f.Subfields = append(f.Subfields, sub)
		return nil
	}
	want := 0
	if cfg.mode == addrPlace {
		want = cfg.sub
	}
	n := 0
	for i, s := range f.Subfields {
		if s.SubfieldCode() != code {
			continue
		}
		if n == want {
			f.Subfields[i] = sub
			return nil
		}
		n++
	}
	if want > n || want < 0 {
		return fmt.Errorf("%w: %s$%s[%d]", ErrInvalidAddress, f.Tag, code, want)
	}
	f.Subfields = append(f.Subfields, sub)
	return nil
}
