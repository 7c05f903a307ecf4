package filter

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ohler55/ojg/jp"
)

var (
	regexCache sync.Map // pattern -> *regexp.Regexp
	pathCache  sync.Map // expr -> jp.Expr
)

// Match evaluates f against doc in-process.
func Match(doc any, f Filter) (bool, error) {
	switch v := f.(type) {
	case nil, All:
		return true, nil
	case None:
		return false, nil
	case And:
		for _, c := range v {
			ok, err := Match(doc, c)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, c := range v {
			ok, err := Match(doc, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		ok, err := Match(doc, v.Filter)
		return !ok, err
	case Eq:
		return anyValue(doc, v.Path, func(x any) bool { return Equal(x, v.Value) }), nil
	case In:
		return anyValue(doc, v.Path, func(x any) bool {
			for _, want := range v.Values {
				if Equal(x, want) {
					return true
				}
			}
			return false
		}), nil
	case Exists:
		_, ok := Lookup(doc, v.Path)
		return ok, nil
	case Regex:
		re, err := CompileRegex(v.Pattern, v.IgnoreCase)
		if err != nil {
			return false, err
		}
		return anyValue(doc, v.Path, func(x any) bool {
			s, ok := x.(string)
			return ok && re.MatchString(s)
		}), nil
	case Range:
		return anyValue(doc, v.Path, func(x any) bool { return inRange(x, v) }), nil
	case ElemMatch:
		val, ok := Lookup(doc, v.Path)
		if !ok {
			return false, nil
		}
		arr, ok := val.([]any)
		if !ok {
			return false, nil
		}
		for _, elem := range arr {
			ok, err := Match(elem, v.Match)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case JSONPath:
		x, err := parsePath(v.Expr)
		if err != nil {
			return false, err
		}
		return len(x.Get(doc)) > 0, nil
	}
	return false, fmt.Errorf("filter: unsupported node %T", f)
}

// CompileRegex compiles and caches pattern.
func CompileRegex(pattern string, ignoreCase bool) (*regexp.Regexp, error) {
	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("filter: invalid regex %q: %w", pattern, err)
	}
	regexCache.Store(pattern, re)
	return re, nil
}

func parsePath(expr string) (jp.Expr, error) {
	if x, ok := pathCache.Load(expr); ok {
		return x.(jp.Expr), nil
	}
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("filter: invalid jsonpath %q: %w", expr, err)
	}
	pathCache.Store(expr, x)
	return x, nil
}

// Lookup resolves a dotted path through nested objects. A segment may end
// in [n] to select one array element. The empty path returns doc itself.
func Lookup(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		key, idx := SplitIndex(seg)
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
		if idx < 0 {
			continue
		}
		arr, ok := cur.([]any)
		if !ok || idx >= len(arr) {
			return nil, false
		}
		cur = arr[idx]
	}
	return cur, true
}

// SplitIndex splits a path segment "key[n]" into key and n. Segments
// without an index return -1.
func SplitIndex(seg string) (string, int) {
	if !strings.HasSuffix(seg, "]") {
		return seg, -1
	}
	open := strings.LastIndexByte(seg, '[')
	if open < 0 {
		return seg, -1
	}
	n, err := strconv.Atoi(seg[open+1 : len(seg)-1])
	if err != nil || n < 0 {
		return seg, -1
	}
	return seg[:open], n
}

// anyValue applies pred to the value at path, or to each element when that
// value is an array.
func anyValue(doc any, path string, pred func(any) bool) bool {
	val, ok := Lookup(doc, path)
	if !ok {
		return false
	}
	if arr, ok := val.([]any); ok {
		for _, elem := range arr {
			if pred(elem) {
				return true
			}
		}
		return false
	}
	return pred(val)
}

func inRange(x any, r Range) bool {
	check := func(bound any, ok func(int) bool) bool {
		if bound == nil {
			return true
		}
		c, comparable := Compare(x, bound)
		return comparable && ok(c)
	}
	return check(r.Gte, func(c int) bool { return c >= 0 }) &&
		check(r.Gt, func(c int) bool { return c > 0 }) &&
		check(r.Lte, func(c int) bool { return c <= 0 }) &&
		check(r.Lt, func(c int) bool { return c < 0 })
}

// Equal compares two scalar values, treating all numeric types as one.
func Equal(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	return false
}

// Compare orders two values of the same kind. The second result is false
// when the values are not mutually comparable.
func Compare(a, b any) (int, bool) {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
