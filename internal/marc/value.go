package marc

import (
	"slices"
	"strings"
)

// resolve returns the text of a subfield. Linked subfields are looked up
// through the record's Authorities; failures are logged and read as "".
func (r *Record) resolve(s Subfield, language string) string {
	switch v := s.(type) {
	case Literal:
		return v.Value
	case Linked:
		if r.auths == nil {
			return ""
		}
		val, err := r.auths.Lookup(v.Xref, v.Code, language)
		if err != nil {
			r.log.Error().Err(err).Int("xref", v.Xref).Str("code", v.Code).Msg("authority lookup failed")
			return ""
		}
		return val
	}
	return ""
}

// SubfieldValue returns the text of s as it would be displayed.
func (r *Record) SubfieldValue(s Subfield) string { return r.resolve(s, "") }

// Value returns the first value of code in the first tag field. For a
// control field code is ignored. Missing values are "".
func (r *Record) Value(tag, code string) string {
	return r.ValueAt(tag, code, 0, 0)
}

// ValueAt returns the subPlace-th value of code in the fieldPlace-th tag
// field.
func (r *Record) ValueAt(tag, code string, fieldPlace, subPlace int) string {
	return r.localizedValueAt(tag, code, fieldPlace, subPlace, "")
}

// LocalizedValue is Value with linked subfields resolved in language.
func (r *Record) LocalizedValue(tag, code, language string) string {
	return r.localizedValueAt(tag, code, 0, 0, language)
}

func (r *Record) localizedValueAt(tag, code string, fieldPlace, subPlace int, language string) string {
	switch f := r.GetField(tag, fieldPlace).(type) {
	case *Controlfield:
		return f.Value
	case *Datafield:
		if s := f.Get(code, subPlace); s != nil {
			return r.resolve(s, language)
		}
	}
	return ""
}

// Values returns every value of the given codes across all tag fields, in
// field then subfield order. No codes returns every subfield.
func (r *Record) Values(tag string, codes ...string) []string {
	var out []string
	for _, f := range r.GetFields(tag) {
		switch v := f.(type) {
		case *Controlfield:
			out = append(out, v.Value)
		case *Datafield:
			out = append(out, r.FieldValues(v, codes...)...)
		}
	}
	return out
}

// FieldValues returns the resolved values of the given codes in f. No codes
// returns every subfield.
func (r *Record) FieldValues(f *Datafield, codes ...string) []string {
	var out []string
	for _, s := range f.Subfields {
		if len(codes) > 0 && !slices.Contains(codes, s.SubfieldCode()) {
			continue
		}
		if v := r.resolve(s, ""); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// FieldText joins the resolved values of f with spaces.
func (r *Record) FieldText(f Field) string {
	switch v := f.(type) {
	case *Controlfield:
		return v.Value
	case *Datafield:
		return strings.Join(r.FieldValues(v), " ")
	}
	return ""
}
