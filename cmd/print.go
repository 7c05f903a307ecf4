package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
)

var (
	tagColor  = color.New(color.FgCyan, color.Bold)
	indColor  = color.New(color.FgYellow)
	codeColor = color.New(color.FgGreen)
	xrefColor = color.New(color.FgMagenta)
	headColor = color.New(color.Bold)
)

// printRecord writes the line form of rec with linked values resolved and
// their xrefs shown in brackets.
func printRecord(w io.Writer, rec *marc.Record) {
	headColor.Fprintf(w, "%s %d\n", rec.Type, rec.ID)
	for _, f := range rec.Fields {
		switch v := f.(type) {
		case *marc.Controlfield:
			fmt.Fprintf(w, "=%s  %s\n", tagColor.Sprint(v.Tag), v.Value)
		case *marc.Datafield:
			var b strings.Builder
			for _, s := range v.Subfields {
				b.WriteString(codeColor.Sprint("$" + s.SubfieldCode()))
				b.WriteString(rec.SubfieldValue(s))
				if l, ok := s.(marc.Linked); ok {
					b.WriteString(xrefColor.Sprintf(" [%d]", l.Xref))
				}
			}
			fmt.Fprintf(w, "=%s  %s%s\n", tagColor.Sprint(v.Tag), indColor.Sprint(blank(v.Ind1)+blank(v.Ind2)), b.String())
		}
	}
}

func blank(ind string) string {
	if ind == "" || ind == " " {
		return `\`
	}
	return ind
}

// formatRecord renders rec in one of the export formats.
func formatRecord(rec *marc.Record, format string) (string, error) {
	switch format {
	case "mrk":
		return rec.ToMRK(), nil
	case "json", "jsonl":
		return rec.ToJSON(), nil
	case "xml":
		return rec.ToXML()
	case "yaml", "yml":
		b, err := yaml.Marshal(rec.ToDocument())
		if err != nil {
			return "", fmt.Errorf("encode yaml: %w", err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("unknown format %q", format)
}
