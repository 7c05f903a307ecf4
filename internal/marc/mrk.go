package marc

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
)

// mrk escapes the subfield delimiter inside values.
var (
	mrkEscape   = strings.NewReplacer("$", "{dollar}")
	mrkUnescape = strings.NewReplacer("{dollar}", "$")
)

// ToMRK renders the line form, one field per line:
//
//	=000  leader
//	=008  control value
//	=245  10$aTitle$cResponsibility
//
// Blank indicators are written as a backslash. Linked subfields are written
// as their resolved text.
func (r *Record) ToMRK() string {
	var b strings.Builder
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "=%s  ", f.FieldTag())
		switch v := f.(type) {
		case *Controlfield:
			b.WriteString(strings.ReplaceAll(v.Value, " ", `\`))
		case *Datafield:
			b.WriteString(mrkIndicator(v.Ind1))
			b.WriteString(mrkIndicator(v.Ind2))
			for _, s := range v.Subfields {
				b.WriteString("$")
				b.WriteString(s.SubfieldCode())
				b.WriteString(mrkEscape.Replace(r.resolve(s, "")))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func mrkIndicator(s string) string {
	if s == "" || s == " " {
		return `\`
	}
	return s[:1]
}

// FromMRK parses the line form of one record. LDR is accepted for the
// leader tag. Blank lines are ignored.
func FromMRK(rt api.RecordType, src string, opts ...Option) (*Record, error) {
	r := New(rt, opts...)
	sc := bufio.NewScanner(strings.NewReader(src))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		f, err := parseMRKLine(text)
		if err != nil {
			return nil, fmt.Errorf("marc: mrk line %d: %w", line, err)
		}
		r.Fields = append(r.Fields, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("marc: read mrk: %w", err)
	}
	return r, nil
}

func parseMRKLine(text string) (Field, error) {
	if len(text) < 4 || text[0] != '=' {
		return nil, fmt.Errorf("expected =TAG, got %q", text)
	}
	tag := text[1:4]
	if tag == "LDR" {
		tag = "000"
	}
	if !tagKey.MatchString(tag) {
		return nil, fmt.Errorf("invalid tag %q", tag)
	}
	body := strings.TrimPrefix(text[4:], "  ")
	if IsControlTag(tag) {
		return &Controlfield{Tag: tag, Value: strings.ReplaceAll(body, `\`, " ")}, nil
	}
	if len(body) < 2 {
		return nil, fmt.Errorf("field %s has no indicators", tag)
	}
	f := &Datafield{Tag: tag, Ind1: fromMRKIndicator(body[0]), Ind2: fromMRKIndicator(body[1])}
	for _, chunk := range strings.Split(body[2:], "$") {
		if chunk == "" {
			continue
		}
		f.Subfields = append(f.Subfields, Literal{Code: chunk[:1], Value: mrkUnescape.Replace(chunk[1:])})
	}
	return f, nil
}

func fromMRKIndicator(c byte) string {
	if c == '\\' {
		return " "
	}
	return string(c)
}

// SplitMRK splits a multi-record line file on blank lines.
func SplitMRK(src string) []string {
	var out []string
	for _, chunk := range strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(chunk) != "" {
			out = append(out, chunk)
		}
	}
	return out
}
