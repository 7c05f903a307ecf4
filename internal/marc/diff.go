package marc

// Diff partitions the fields of two records.
type Diff struct {
	OnlyLeft  []Field
	OnlyRight []Field
	Common    []Field
}

// Same reports whether the records had identical field multisets.
func (d Diff) Same() bool { return len(d.OnlyLeft) == 0 && len(d.OnlyRight) == 0 }

// FieldsEqual compares two fields structurally. Linked subfields compare by
// xref, not by resolved text.
func FieldsEqual(a, b Field) bool {
	switch av := a.(type) {
	case *Controlfield:
		bv, ok := b.(*Controlfield)
		return ok && av.Tag == bv.Tag && av.Value == bv.Value
	case *Datafield:
		bv, ok := b.(*Datafield)
		return ok && av.Equal(bv)
	}
	return false
}

// Diff compares r with other field by field. Each field of r is matched
// with at most one equal field of other.
func (r *Record) Diff(other *Record) Diff {
	var d Diff
	used := make([]bool, len(other.Fields))
	for _, f := range r.Fields {
		matched := false
		for j, g := range other.Fields {
			if !used[j] && FieldsEqual(f, g) {
				used[j] = true
				matched = true
				break
			}
		}
		if matched {
			d.Common = append(d.Common, f)
		} else {
			d.OnlyLeft = append(d.OnlyLeft, f)
		}
	}
	for j, g := range other.Fields {
		if !used[j] {
			d.OnlyRight = append(d.OnlyRight, g)
		}
	}
	return d
}
