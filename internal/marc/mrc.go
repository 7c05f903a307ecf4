package marc

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
)

// ISO 2709 delimiters.
const (
	SubfieldDelimiter = 0x1F
	FieldTerminator   = 0x1E
	RecordTerminator  = 0x1D

	leaderLen         = 24
	directoryEntryLen = 12
)

// ToMRC encodes the record as leader, directory and field data. The record
// length, base address and fixed leader positions are recomputed. Linked
// subfields are written as their resolved text.
func (r *Record) ToMRC() ([]byte, error) {
	var dir, data bytes.Buffer
	for _, f := range r.Fields {
		if f.FieldTag() == "000" {
			continue
		}
		start := data.Len()
		switch v := f.(type) {
		case *Controlfield:
			data.WriteString(v.Value)
		case *Datafield:
			data.WriteString(indicator(v.Ind1)[:1])
			data.WriteString(indicator(v.Ind2)[:1])
			for _, s := range v.Subfields {
				data.WriteByte(SubfieldDelimiter)
				data.WriteString(s.SubfieldCode())
				data.WriteString(r.resolve(s, ""))
			}
		}
		data.WriteByte(FieldTerminator)
		length := data.Len() - start
		if length > 9999 || start > 99999 {
			return nil, fmt.Errorf("marc: field %s too long for directory", f.FieldTag())
		}
		fmt.Fprintf(&dir, "%s%04d%05d", f.FieldTag(), length, start)
	}
	dir.WriteByte(FieldTerminator)

	base := leaderLen + dir.Len()
	total := base + data.Len() + 1
	if total > 99999 {
		return nil, fmt.Errorf("marc: record length %d exceeds 99999", total)
	}

	leader := []byte(padLeader(r.LeaderOrDefault()))
	copy(leader[0:5], fmt.Sprintf("%05d", total))
	leader[9] = 'a'
	copy(leader[10:12], "22")
	copy(leader[12:17], fmt.Sprintf("%05d", base))
	copy(leader[20:24], "4500")

	out := make([]byte, 0, total)
	out = append(out, leader...)
	out = append(out, dir.Bytes()...)
	out = append(out, data.Bytes()...)
	out = append(out, RecordTerminator)
	return out, nil
}

func padLeader(s string) string {
	if len(s) >= leaderLen {
		return s[:leaderLen]
	}
	return s + strings.Repeat(" ", leaderLen-len(s))
}

// FromMRC decodes one ISO 2709 record. The leader is kept as field 000.
func FromMRC(rt api.RecordType, b []byte, opts ...Option) (*Record, error) {
	if len(b) < leaderLen+1 {
		return nil, fmt.Errorf("marc: record too short (%d bytes)", len(b))
	}
	leader := string(b[:leaderLen])
	base, err := strconv.Atoi(leader[12:17])
	if err != nil || base <= leaderLen || base > len(b) {
		return nil, fmt.Errorf("marc: bad base address %q", leader[12:17])
	}
	dir := b[leaderLen : base-1]
	if len(dir)%directoryEntryLen != 0 {
		return nil, fmt.Errorf("marc: directory length %d is not a multiple of %d", len(dir), directoryEntryLen)
	}
	data := b[base:]

	r := New(rt, opts...)
	r.Fields = append(r.Fields, &Controlfield{Tag: "000", Value: leader})
	for i := 0; i < len(dir); i += directoryEntryLen {
		entry := string(dir[i : i+directoryEntryLen])
		tag := entry[:3]
		length, err1 := strconv.Atoi(entry[3:7])
		start, err2 := strconv.Atoi(entry[7:12])
		if err1 != nil || err2 != nil || start+length > len(data) || length < 1 {
			return nil, fmt.Errorf("marc: bad directory entry %q", entry)
		}
		raw := data[start : start+length-1] // drop the field terminator
		if IsControlTag(tag) {
			r.Fields = append(r.Fields, &Controlfield{Tag: tag, Value: string(raw)})
			continue
		}
		if len(raw) < 2 {
			return nil, fmt.Errorf("marc: field %s has no indicators", tag)
		}
		f := &Datafield{Tag: tag, Ind1: string(raw[0]), Ind2: string(raw[1])}
		for _, chunk := range bytes.Split(raw[2:], []byte{SubfieldDelimiter}) {
			if len(chunk) == 0 {
				continue
			}
			f.Subfields = append(f.Subfields, Literal{Code: string(chunk[0]), Value: string(chunk[1:])})
		}
		r.Fields = append(r.Fields, f)
	}
	return r, nil
}
