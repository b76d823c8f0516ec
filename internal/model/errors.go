package model

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures. None of them is transient.
type Kind string

const (
	KindData        Kind = "data"
	KindConfig      Kind = "config"
	KindTraining    Kind = "training"
	KindSchema      Kind = "schema"
	KindPersistence Kind = "persistence"
)

// Sentinels for errors.Is; an *Error matches the sentinel of its Kind.
var (
	ErrData        = &Error{Kind: KindData}
	ErrConfig      = &Error{Kind: KindConfig}
	ErrTraining    = &Error{Kind: KindTraining}
	ErrSchema      = &Error{Kind: KindSchema}
	ErrPersistence = &Error{Kind: KindPersistence}
)

// Error is a classified failure raised by one operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + " error"
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind when the target carries no cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func newError(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func DataErrorf(op, format string, args ...any) error {
	return newError(KindData, op, format, args...)
}

func ConfigErrorf(op, format string, args ...any) error {
	return newError(KindConfig, op, format, args...)
}

func TrainingErrorf(op, format string, args ...any) error {
	return newError(KindTraining, op, format, args...)
}

func SchemaErrorf(op, format string, args ...any) error {
	return newError(KindSchema, op, format, args...)
}

func PersistenceErrorf(op, format string, args ...any) error {
	return newError(KindPersistence, op, format, args...)
}
