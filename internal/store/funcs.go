package store

import (
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"modernc.org/sqlite"
)

var (
	funcsOnce sync.Once
	funcsErr  error
)

// registerFunctions installs regexp(pattern, value) on the SQLite driver.
// modernc.org/sqlite registers functions per process, not per database, so
// this runs once no matter how many stores are opened.
func registerFunctions() error {
	funcsOnce.Do(func() {
		err := sqlite.RegisterDeterministicScalarFunction("regexp", 2, regexpFunc)
		if err != nil {
			funcsErr = fmt.Errorf("store: register regexp: %w", err)
		}
	})
	return funcsErr
}

func regexpFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	pattern, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("regexp: pattern must be text, got %T", args[0])
	}
	var value string
	switch v := args[1].(type) {
	case string:
		value = v
	case []byte:
		value = string(v)
	default:
		return int64(0), nil
	}
	re, err := filter.CompileRegex(pattern, false)
	if err != nil {
		return nil, err
	}
	if re.MatchString(value) {
		return int64(1), nil
	}
	return int64(0), nil
}
