package codec

import (
	"errors"
	"fmt"
)

// ErrDecode matches every *DecodeError via errors.Is.
var ErrDecode = errors.New("marker decode failed")

// ErrInvalidMarker is returned when a marker cannot be built from the
// supplied parameters.
var ErrInvalidMarker = errors.New("invalid marker")

// DecodeError reports malformed marker input. Field is the JSON path of the
// offending member when one can be identified.
type DecodeError struct {
	Kind   string
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "marker"
	}
	if e.Field != "" {
		return fmt.Sprintf("decode %s: %s: %s", kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("decode %s: %s", kind, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func decodeErr(kind, field, reason string, cause error) *DecodeError {
	return &DecodeError{Kind: kind, Field: field, Reason: reason, Err: cause}
}
