package marc

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

var tagKey = regexp.MustCompile(`^\d{3}$`)

// ToDocument returns the stored form of the record: each tag maps to a list
// of fields, control fields as strings and data fields as
// {indicators: [i1, i2], subfields: [{code, value|xref}]}. Audit fields are
// included when set.
func (r *Record) ToDocument() map[string]any {
	doc := make(map[string]any)
	if r.ID != 0 {
		doc["_id"] = int64(r.ID)
	}
	for _, f := range r.Fields {
		list, _ := doc[f.FieldTag()].([]any)
		switch v := f.(type) {
		case *Controlfield:
			list = append(list, v.Value)
		case *Datafield:
			subs := make([]any, 0, len(v.Subfields))
			for _, s := range v.Subfields {
				switch sv := s.(type) {
				case Literal:
					subs = append(subs, map[string]any{"code": sv.Code, "value": sv.Value})
				case Linked:
					subs = append(subs, map[string]any{"code": sv.Code, "xref": int64(sv.Xref)})
				}
			}
			list = append(list, map[string]any{
				"indicators": []any{indicator(v.Ind1), indicator(v.Ind2)},
				"subfields":  subs,
			})
		}
		doc[f.FieldTag()] = list
	}
	if !r.Created.IsZero() {
		doc["created"] = r.Created.UTC().Format(TimeFormat)
	}
	if r.CreatedUser != "" {
		doc["created_user"] = r.CreatedUser
	}
	if !r.Updated.IsZero() {
		doc["updated"] = r.Updated.UTC().Format(TimeFormat)
	}
	if r.User != "" {
		doc["user"] = r.User
	}
	return doc
}

// FromDocument builds a record from its stored form. Keys that are not
// tags or audit fields are ignored. Fields are ordered by tag, then by
// position within the tag.
func FromDocument(rt api.RecordType, doc map[string]any, opts ...Option) (*Record, error) {
	r := New(rt, opts...)
	if id, ok := doc["_id"]; ok {
		n, ok := toInt(id)
		if !ok {
			return nil, fmt.Errorf("marc: _id %v is not an integer", id)
		}
		r.ID = n
	}

	tags := make([]string, 0, len(doc))
	for k := range doc {
		if tagKey.MatchString(k) {
			tags = append(tags, k)
		}
	}
	sort.Strings(tags)

	for _, tag := range tags {
		list, ok := doc[tag].([]any)
		if !ok {
			return nil, fmt.Errorf("marc: %s: expected a list, got %T", tag, doc[tag])
		}
		for i, item := range list {
			f, err := fieldFromDocument(tag, item)
			if err != nil {
				return nil, fmt.Errorf("marc: %s[%d]: %w", tag, i, err)
			}
			r.Fields = append(r.Fields, f)
		}
	}

	var err error
	if r.Created, err = parseTime(doc["created"]); err != nil {
		return nil, err
	}
	if r.Updated, err = parseTime(doc["updated"]); err != nil {
		return nil, err
	}
	r.CreatedUser, _ = doc["created_user"].(string)
	r.User, _ = doc["user"].(string)
	return r, nil
}

func fieldFromDocument(tag string, item any) (Field, error) {
	if IsControlTag(tag) {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("control field value is %T", item)
		}
		return &Controlfield{Tag: tag, Value: s}, nil
	}
	m, ok := item.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("data field is %T", item)
	}
	f := NewDatafield(tag)
	if inds, ok := m["indicators"].([]any); ok && len(inds) == 2 {
		f.Ind1, _ = inds[0].(string)
		f.Ind2, _ = inds[1].(string)
		f.Ind1, f.Ind2 = indicator(f.Ind1), indicator(f.Ind2)
	}
	subs, _ := m["subfields"].([]any)
	for j, raw := range subs {
		sm, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("subfield %d is %T", j, raw)
		}
		code, _ := sm["code"].(string)
		if x, ok := sm["xref"]; ok {
			n, ok := toInt(x)
			if !ok {
				return nil, fmt.Errorf("subfield %d: xref %v is not an integer", j, x)
			}
			f.Subfields = append(f.Subfields, Linked{Code: code, Xref: n})
			continue
		}
		val, _ := sm["value"].(string)
		f.Subfields = append(f.Subfields, Literal{Code: code, Value: val})
	}
	return f, nil
}

func parseTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return time.Time{}, fmt.Errorf("marc: bad timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// ToJSON serializes the stored form with sorted keys.
func (r *Record) ToJSON() string {
	return oj.JSON(r.ToDocument(), &ojg.Options{Sort: true})
}

// FromJSON parses the JSON tree form.
func FromJSON(rt api.RecordType, src string, opts ...Option) (*Record, error) {
	v, err := oj.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("marc: parse json: %w", err)
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("marc: json record is %T, not an object", v)
	}
	return FromDocument(rt, doc, opts...)
}
