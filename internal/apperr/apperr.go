// Package apperr defines the error kinds surfaced across chatvault's core
// packages (model, store, diff, merge). Every operation either succeeds
// fully or returns one of these kinds wrapped with context, so callers
// can branch with errors.Is / errors.As instead of string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure the way the spec's error-handling design
// requires: NotFound, Invalid, Conflict, Ambiguity, TimeShift, FS, DB,
// Internal.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalid
	KindConflict
	KindAmbiguity
	KindTimeShift
	KindFS
	KindDB
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindConflict:
		return "conflict"
	case KindAmbiguity:
		return "ambiguity"
	case KindTimeShift:
		return "time_shift"
	case KindFS:
		return "fs"
	case KindDB:
		return "db"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can classify it.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, apperr.ErrNotFound) style sentinels by kind.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

func new(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...interface{}) error  { return new(KindNotFound, format, args...) }
func Invalid(format string, args ...interface{}) error   { return new(KindInvalid, format, args...) }
func Conflict(format string, args ...interface{}) error  { return new(KindConflict, format, args...) }
func Ambiguity(format string, args ...interface{}) error { return new(KindAmbiguity, format, args...) }
func TimeShift(format string, args ...interface{}) error { return new(KindTimeShift, format, args...) }
func FS(format string, args ...interface{}) error        { return new(KindFS, format, args...) }
func DB(format string, args ...interface{}) error        { return new(KindDB, format, args...) }
func Internal(format string, args ...interface{}) error  { return new(KindInternal, format, args...) }

func WrapNotFound(err error, format string, args ...interface{}) error {
	return wrap(KindNotFound, err, format, args...)
}
func WrapInvalid(err error, format string, args ...interface{}) error {
	return wrap(KindInvalid, err, format, args...)
}
func WrapConflict(err error, format string, args ...interface{}) error {
	return wrap(KindConflict, err, format, args...)
}
func WrapFS(err error, format string, args ...interface{}) error {
	return wrap(KindFS, err, format, args...)
}
func WrapDB(err error, format string, args ...interface{}) error {
	return wrap(KindDB, err, format, args...)
}
func WrapInternal(err error, format string, args ...interface{}) error {
	return wrap(KindInternal, err, format, args...)
}

// Of returns the Kind of err, or KindUnknown if err is not an *Error
// (directly or in its wrap chain).
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Sentinels usable with errors.Is, e.g. errors.Is(err, apperr.ErrNotFound).
var (
	ErrNotFound  = &Error{Kind: KindNotFound}
	ErrInvalid   = &Error{Kind: KindInvalid}
	ErrConflict  = &Error{Kind: KindConflict}
	ErrAmbiguity = &Error{Kind: KindAmbiguity}
	ErrTimeShift = &Error{Kind: KindTimeShift}
)
