package query

import (
	"errors"
	"fmt"
)

// ErrInvalidQueryString is matched by every query syntax or compilation
// failure.
var ErrInvalidQueryString = errors.New("invalid query string")

// InvalidQueryStringError locates a query failure. Pos is the byte offset
// in Query, or -1 when the failure is not tied to one position.
type InvalidQueryStringError struct {
	Query  string
	Pos    int
	Reason string
}

func (e *InvalidQueryStringError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s: %s at offset %d in %q", ErrInvalidQueryString, e.Reason, e.Pos, e.Query)
	}
	return fmt.Sprintf("%s: %s in %q", ErrInvalidQueryString, e.Reason, e.Query)
}

func (e *InvalidQueryStringError) Unwrap() error { return ErrInvalidQueryString }

func invalid(query string, pos int, format string, args ...any) error {
	return &InvalidQueryStringError{Query: query, Pos: pos, Reason: fmt.Sprintf(format, args...)}
}
