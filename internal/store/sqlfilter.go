package store

import (
	"fmt"
	"strings"

	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/ohler55/ojg/oj"
)

// sqlFilter compiles a filter tree into a WHERE clause over the doc column.
// Array traversal uses json_each sub-selects; each nesting level gets its
// own alias so inner predicates address the current element.
type sqlFilter struct {
	args []any
	n    int
}

// errNoPushdown marks filters the SQL compiler cannot express.
type errNoPushdown struct{ node filter.Filter }

func (e errNoPushdown) Error() string {
	return fmt.Sprintf("store: cannot push down %T", e.node)
}

func compileWhere(f filter.Filter) (string, []any, error) {
	c := &sqlFilter{}
	where, err := c.compile(f, "doc")
	if err != nil {
		return "", nil, err
	}
	return where, c.args, nil
}

// jsonPath renders a dotted path as a quoted SQLite JSON path.
func jsonPath(path string) string {
	var b strings.Builder
	b.WriteString("$")
	if path == "" {
		return b.String()
	}
	for _, seg := range strings.Split(path, ".") {
		key, idx := filter.SplitIndex(seg)
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(key, `"`, `\"`))
		b.WriteString(`"`)
		if idx >= 0 {
			fmt.Fprintf(&b, "[%d]", idx)
		}
	}
	return b.String()
}

func (c *sqlFilter) alias() string {
	c.n++
	return fmt.Sprintf("j%d", c.n)
}

func (c *sqlFilter) bind(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			v = 1
		} else {
			v = 0
		}
	}
	if n, ok := asInt64(v); ok {
		v = n
	}
	c.args = append(c.args, v)
	return "?"
}

// scalar builds a predicate over the value(s) at path within ctx. When path
// is empty ctx is the value itself; otherwise json_each yields either the
// single value or the elements of a terminal array.
func (c *sqlFilter) scalar(ctx, path string, pred func(val, typ string) string) string {
	if path == "" {
		return pred(ctx, "json_type(json_quote("+ctx+"))")
	}
	a := c.alias()
	p := jsonPath(path)
	inner := pred(a+".value", a+".type")
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s, '%s') AS %s WHERE %s)", ctx, p, a, inner)
}

func (c *sqlFilter) compile(f filter.Filter, ctx string) (string, error) {
	switch v := f.(type) {
	case nil, filter.All:
		return "1", nil
	case filter.None:
		return "0", nil
	case filter.And:
		return c.join(v, " AND ", "1", ctx)
	case filter.Or:
		return c.join(v, " OR ", "0", ctx)
	case filter.Not:
		inner, err := c.compile(v.Filter, ctx)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case filter.Eq:
		if v.Value == nil {
			return c.scalar(ctx, v.Path, func(_, typ string) string { return typ + " = 'null'" }), nil
		}
		return c.scalar(ctx, v.Path, func(val, _ string) string {
			return val + " = " + c.bind(v.Value)
		}), nil
	case filter.In:
		if len(v.Values) == 0 {
			return "0", nil
		}
		arr, err := encodeValues(v.Values)
		if err != nil {
			return "", err
		}
		return c.scalar(ctx, v.Path, func(val, _ string) string {
			return val + " IN (SELECT value FROM json_each(" + c.bind(arr) + "))"
		}), nil
	case filter.Exists:
		if v.Path == "" {
			return "1", nil
		}
		return fmt.Sprintf("json_type(%s, '%s') IS NOT NULL", ctx, jsonPath(v.Path)), nil
	case filter.Regex:
		pattern := v.Pattern
		if v.IgnoreCase {
			pattern = "(?i)" + pattern
		}
		if _, err := filter.CompileRegex(v.Pattern, v.IgnoreCase); err != nil {
			return "", err
		}
		return c.scalar(ctx, v.Path, func(val, typ string) string {
			return typ + " = 'text' AND regexp(" + c.bind(pattern) + ", " + val + ")"
		}), nil
	case filter.Range:
		return c.scalar(ctx, v.Path, func(val, _ string) string {
			var conds []string
			for _, b := range []struct {
				op    string
				bound any
			}{{">=", v.Gte}, {">", v.Gt}, {"<=", v.Lte}, {"<", v.Lt}} {
				if b.bound != nil {
					conds = append(conds, val+" "+b.op+" "+c.bind(b.bound))
				}
			}
			if len(conds) == 0 {
				return "1"
			}
			return strings.Join(conds, " AND ")
		}), nil
	case filter.ElemMatch:
		a := c.alias()
		inner, err := c.compile(v.Match, a+".value")
		if err != nil {
			return "", err
		}
		p := jsonPath(v.Path)
		return fmt.Sprintf("json_type(%s, '%s') = 'array' AND EXISTS (SELECT 1 FROM json_each(%s, '%s') AS %s WHERE %s)",
			ctx, p, ctx, p, a, inner), nil
	case filter.JSONPath:
		return "", errNoPushdown{node: v}
	}
	return "", fmt.Errorf("store: unsupported filter %T", f)
}

func (c *sqlFilter) join(children []filter.Filter, sep, empty, ctx string) (string, error) {
	if len(children) == 0 {
		return empty, nil
	}
	parts := make([]string, len(children))
	for i, child := range children {
		s, err := c.compile(child, ctx)
		if err != nil {
			return "", err
		}
		parts[i] = "(" + s + ")"
	}
	return strings.Join(parts, sep), nil
}

func encodeValues(values []any) (string, error) {
	norm := make([]any, len(values))
	for i, v := range values {
		if n, ok := asInt64(v); ok {
			v = n
		}
		norm[i] = v
	}
	b, err := oj.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("store: encode set: %w", err)
	}
	return string(b), nil
}
