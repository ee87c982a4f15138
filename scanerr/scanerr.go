// Package scanerr is the error taxonomy of the scan path. Every error carries
// the context needed to log it usefully, and wraps one of the kind sentinels
// so callers can branch with errors.Is.
package scanerr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrPlanning means the predicates or table definition are unusable. No
	// store access happened.
	ErrPlanning = errors.New("planning error")
	// ErrIO means the store failed while iterating or looking up a key.
	ErrIO = errors.New("io error")
	// ErrDecode means a stored value could not be read as its declared type.
	ErrDecode = errors.New("decode error")
	// ErrSchema means the catalog and the projected schema disagree.
	ErrSchema = errors.New("schema consistency error")
)

type (
	PlanningError struct {
		Table  string
		Column string
		Index  string
		Err    error
	}

	IOError struct {
		// Op is the store operation, e.g. "iter" or "get"
		Op  string
		Key []byte
		Err error
	}

	DecodeError struct {
		Column   string
		Key      []byte
		Expected string
		Value    []byte
		Err      error
	}

	SchemaError struct {
		Table  string
		Column string
		Err    error
	}
)

func (e *PlanningError) Error() string {
	msg := "planning error on table " + e.Table
	if e.Column != "" {
		msg += ", column " + e.Column
	}
	if e.Index != "" {
		msg += ", index " + e.Index
	}
	return msg + ": " + e.Err.Error()
}

func (e *PlanningError) Unwrap() error { return e.Err }

func (e *PlanningError) Is(target error) bool { return target == ErrPlanning }

func (e *IOError) Error() string {
	return fmt.Sprintf("store %s failed, key: %q: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

func (e *DecodeError) Error() string {
	return fmt.Sprintf("error decoding column %s as %s, key: %q, value: %q: %v", e.Column, e.Expected, e.Key, e.Value, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *SchemaError) Error() string {
	return "schema consistency error on " + e.Table + "." + e.Column + ": " + e.Err.Error()
}

func (e *SchemaError) Unwrap() error { return e.Err }

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

func Planning(table, column, index string, err error) error {
	return &PlanningError{Table: table, Column: column, Index: index, Err: err}
}

func IO(op string, key []byte, err error) error {
	return &IOError{Op: op, Key: append([]byte(nil), key...), Err: err}
}

func Decode(column string, key []byte, expected string, value []byte, err error) error {
	return &DecodeError{
		Column:   column,
		Key:      append([]byte(nil), key...),
		Expected: expected,
		Value:    append([]byte(nil), value...),
		Err:      err,
	}
}

// Schema reports a missing ordinal. It should not happen in a consistent
// catalog, so the cause is an assertion failure rather than a plain error.
func Schema(table, column string, cause error) error {
	err := errors.AssertionFailedf("no ordinal for column %s.%s", table, column)
	if cause != nil {
		err = errors.WithSecondaryError(err, cause)
	}
	return &SchemaError{Table: table, Column: column, Err: err}
}

// Kind names the taxonomy bucket of err for metrics and HTTP status mapping.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrPlanning):
		return "planning"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrSchema):
		return "schema"
	default:
		return "other"
	}
}
