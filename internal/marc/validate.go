package marc

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

// Validator checks the stored form of a record before it is written.
type Validator interface {
	Validate(doc map[string]any) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(doc map[string]any) error

func (f ValidatorFunc) Validate(doc map[string]any) error { return f(doc) }

var codeKey = regexp.MustCompile(`^[a-z0-9]$`)

// SchemaValidator enforces the record schema: tag keys hold lists,
// control fields are strings, data fields carry two one-character
// indicators and at least one subfield with a one-character code and
// exactly one of value or xref.
type SchemaValidator struct{}

func (SchemaValidator) Validate(doc map[string]any) error {
	tags := make([]string, 0, len(doc))
	for k := range doc {
		tags = append(tags, k)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		if !tagKey.MatchString(tag) {
			continue
		}
		list, ok := doc[tag].([]any)
		if !ok {
			return schemaError(doc, tag, "expected an array")
		}
		for i, item := range list {
			path := fmt.Sprintf("%s[%d]", tag, i)
			if IsControlTag(tag) {
				if _, ok := item.(string); !ok {
					return schemaError(doc, path, "control field must be a string")
				}
				continue
			}
			if err := validateDatafield(doc, path, item); err != nil {
				return err
			}
		}
	}
	if id, ok := doc["_id"]; ok {
		if n, ok := toInt(id); !ok || n < 1 {
			return schemaError(doc, "_id", "must be a positive integer")
		}
	}
	return nil
}

func validateDatafield(doc map[string]any, path string, item any) error {
	m, ok := item.(map[string]any)
	if !ok {
		return schemaError(doc, path, "data field must be an object")
	}
	inds, ok := m["indicators"].([]any)
	if !ok || len(inds) != 2 {
		return schemaError(doc, path+".indicators", "expected two indicators")
	}
	for j, ind := range inds {
		s, ok := ind.(string)
		if !ok || len(s) != 1 {
			return schemaError(doc, fmt.Sprintf("%s.indicators[%d]", path, j), "indicator must be one character")
		}
	}
	subs, ok := m["subfields"].([]any)
	if !ok || len(subs) == 0 {
		return schemaError(doc, path+".subfields", "expected at least one subfield")
	}
	for j, raw := range subs {
		spath := fmt.Sprintf("%s.subfields[%d]", path, j)
		sm, ok := raw.(map[string]any)
		if !ok {
			return schemaError(doc, spath, "subfield must be an object")
		}
		code, _ := sm["code"].(string)
		if !codeKey.MatchString(code) {
			return schemaError(doc, spath+".code", fmt.Sprintf("invalid subfield code %q", code))
		}
		_, hasValue := sm["value"]
		_, hasXref := sm["xref"]
		switch {
		case hasValue && hasXref:
			return schemaError(doc, spath, "subfield has both value and xref")
		case hasValue:
			if _, ok := sm["value"].(string); !ok {
				return schemaError(doc, spath+".value", "value must be a string")
			}
		case hasXref:
			if n, ok := toInt(sm["xref"]); !ok || n < 1 {
				return schemaError(doc, spath+".xref", "xref must be a positive integer")
			}
		default:
			return schemaError(doc, spath, "subfield has neither value nor xref")
		}
	}
	return nil
}

func schemaError(doc map[string]any, path, msg string) error {
	return &ValidationError{Path: path, Message: msg, Record: oj.JSON(doc, &ojg.Options{Sort: true})}
}

// ValidateAuthority checks every link in the record: the subfield must be
// controlled, the authority must exist and carry the expected heading tag.
// Literal text in a controlled subfield is tolerated and logged, since it
// can only get there through WithoutAuthControl or a raw import.
func (r *Record) ValidateAuthority() error {
	for _, d := range r.Datafields("") {
		for _, s := range d.Subfields {
			switch v := s.(type) {
			case Linked:
				if err := r.CheckXref(d.Tag, v.Code, v.Xref); err != nil {
					return err
				}
			case Literal:
				if r.table.IsControlled(r.Type, d.Tag, v.Code) {
					r.logBypass(d.Tag, v.Code, v.Value)
				}
			}
		}
	}
	return nil
}
