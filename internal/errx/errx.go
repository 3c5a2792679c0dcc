// Package errx carries an error kind and the failing operation through the
// layers so the HTTP edge can pick a status without string matching.
package errx

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	Unknown Kind = iota
	Invalid
	Conflict
	ResourceExhausted
	NotFound
	Forbidden
	Unauthorized
	Unavailable
	Internal
)

func (k Kind) String() string {
	switch k {
	case Unknown:
		return "Unknown"
	case Invalid:
		return "Invalid"
	case Conflict:
		return "Conflict"
	case ResourceExhausted:
		return "ResourceExhausted"
	case NotFound:
		return "NotFound"
	case Forbidden:
		return "Forbidden"
	case Unauthorized:
		return "Unauthorized"
	case Unavailable:
		return "Unavailable"
	case Internal:
		return "Internal"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Error is an operation failure of a known kind. Field names the offending
// input for validation failures.
type Error struct {
	Op    string
	Kind  Kind
	Field string
	Err   error
}

// E wraps err. A nil err yields nil.
func E(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Field builds an Invalid error for a single input field.
func Field(op, field, msg string) error {
	return &Error{Op: op, Kind: Invalid, Field: field, Err: errors.New(msg)}
}

// Wrap keeps the kind of err and adds op to the chain.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if kind == Unknown {
		kind = Internal
	}
	return &Error{Op: op, Kind: kind, Field: FieldOf(err), Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func OpOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// FieldOf returns the first field name recorded in the chain.
func FieldOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Field != "" {
			return e.Field
		}
		err = e.Err
	}
	return ""
}

// Message returns the innermost message, without the op prefixes.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for {
		var e *Error
		if !errors.As(err, &e) || e.Err == nil {
			return err.Error()
		}
		err = e.Err
	}
}
