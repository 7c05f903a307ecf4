package marc

import (
	"errors"
	"fmt"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
)

// Authority integrity sentinels. Match them with errors.Is on an *AuthError.
var (
	ErrInvalidAuthXref    = errors.New("invalid authority xref")
	ErrInvalidAuthValue   = errors.New("invalid authority-controlled value")
	ErrAmbiguousAuthValue = errors.New("ambiguous authority-controlled value")
	ErrInvalidAuthField   = errors.New("invalid authority-controlled field")
	ErrAuthInUse          = errors.New("authority is in use")
	ErrInvalidAddress     = errors.New("invalid field address")
)

// AuthErrorKind enumerates authority integrity failures.
type AuthErrorKind int

const (
	InvalidAuthXref AuthErrorKind = iota + 1
	InvalidAuthValue
	AmbiguousAuthValue
	InvalidAuthField
)

func (k AuthErrorKind) sentinel() error {
	switch k {
	case InvalidAuthXref:
		return ErrInvalidAuthXref
	case InvalidAuthValue:
		return ErrInvalidAuthValue
	case AmbiguousAuthValue:
		return ErrAmbiguousAuthValue
	case InvalidAuthField:
		return ErrInvalidAuthField
	}
	return errors.New("unknown authority error")
}

// AuthError reports a write that would break authority control.
type AuthError struct {
	Kind       AuthErrorKind
	RecordType api.RecordType
	Tag        string
	Code       string
	Value      string // literal value being resolved, if any
	Xref       int    // xref being validated, if any
	Matches    []int  // candidate xrefs for AmbiguousAuthValue
	Detail     string
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("%s: %s %s$%s", e.Kind.sentinel(), e.RecordType, e.Tag, e.Code)
	switch e.Kind {
	case InvalidAuthValue:
		msg += fmt.Sprintf(" %q matches no authority", e.Value)
	case AmbiguousAuthValue:
		msg += fmt.Sprintf(" %q matches authorities %v", e.Value, e.Matches)
	case InvalidAuthXref:
		msg += fmt.Sprintf(" xref %d does not exist", e.Xref)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Kind.sentinel() }

// ValidationError reports a record that does not conform to the record
// schema. Record holds its serialized form for diagnosis.
type ValidationError struct {
	Path    string
	Message string
	Record  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed at %s: %s", e.Path, e.Message)
}
