package marc

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
)

// XMLNamespace is the MARCXML namespace.
const XMLNamespace = "http://www.loc.gov/MARC21/slim"

type xmlRecord struct {
	XMLName xml.Name       `xml:"record"`
	Xmlns   string         `xml:"xmlns,attr,omitempty"`
	Leader  string         `xml:"leader,omitempty"`
	Control []xmlControl   `xml:"controlfield"`
	Data    []xmlDatafield `xml:"datafield"`
}

type xmlControl struct {
	Tag   string `xml:"tag,attr"`
	Value string `xml:",chardata"`
}

type xmlDatafield struct {
	Tag       string        `xml:"tag,attr"`
	Ind1      string        `xml:"ind1,attr"`
	Ind2      string        `xml:"ind2,attr"`
	Subfields []xmlSubfield `xml:"subfield"`
}

type xmlSubfield struct {
	Code  string `xml:"code,attr"`
	Value string `xml:",chardata"`
}

// ToXML renders the record as MARCXML. A field with linked subfields gets a
// trailing $0 subfield holding the xref.
func (r *Record) ToXML() (string, error) {
	x := xmlRecord{Xmlns: XMLNamespace}
	for _, f := range r.Fields {
		switch v := f.(type) {
		case *Controlfield:
			if v.Tag == "000" {
				x.Leader = v.Value
				continue
			}
			x.Control = append(x.Control, xmlControl{Tag: v.Tag, Value: v.Value})
		case *Datafield:
			df := xmlDatafield{Tag: v.Tag, Ind1: indicator(v.Ind1), Ind2: indicator(v.Ind2)}
			for _, s := range v.Subfields {
				df.Subfields = append(df.Subfields, xmlSubfield{Code: s.SubfieldCode(), Value: r.resolve(s, "")})
			}
			if xrefs := v.Xrefs(); len(xrefs) > 0 {
				df.Subfields = append(df.Subfields, xmlSubfield{Code: "0", Value: strconv.Itoa(xrefs[0])})
			}
			x.Data = append(x.Data, df)
		}
	}
	b, err := xml.Marshal(x)
	if err != nil {
		return "", fmt.Errorf("marc: encode xml: %w", err)
	}
	return string(b), nil
}

// FromXML parses a MARCXML record. When a field of a controlled tag carries
// a numeric $0, its controlled subfields become links to that xref and the
// $0 is dropped.
func FromXML(rt api.RecordType, src string, opts ...Option) (*Record, error) {
	var x xmlRecord
	if err := xml.Unmarshal([]byte(src), &x); err != nil {
		return nil, fmt.Errorf("marc: parse xml: %w", err)
	}
	r := New(rt, opts...)
	if x.Leader != "" {
		r.Fields = append(r.Fields, &Controlfield{Tag: "000", Value: x.Leader})
	}
	for _, c := range x.Control {
		r.Fields = append(r.Fields, &Controlfield{Tag: c.Tag, Value: c.Value})
	}
	for _, d := range x.Data {
		f := &Datafield{Tag: d.Tag, Ind1: indicator(d.Ind1), Ind2: indicator(d.Ind2)}
		xref := 0
		if len(r.table.ControlledCodes(rt, d.Tag)) > 0 {
			for _, s := range d.Subfields {
				if s.Code == "0" {
					if n, err := strconv.Atoi(s.Value); err == nil {
						xref = n
					}
				}
			}
		}
		for _, s := range d.Subfields {
			switch {
			case xref != 0 && s.Code == "0":
				continue
			case xref != 0 && r.table.IsControlled(rt, d.Tag, s.Code):
				f.Subfields = append(f.Subfields, Linked{Code: s.Code, Xref: xref})
			default:
				f.Subfields = append(f.Subfields, Literal{Code: s.Code, Value: s.Value})
			}
		}
		r.Fields = append(r.Fields, f)
	}
	return r, nil
}
