package domain

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindDataAccess   Kind = "data_access"
	KindNotification Kind = "notification"
	KindGeneral      Kind = "general"
)

var (
	ErrInvalidGranularity = errors.New("invalid_granularity")
	ErrInvalidPeriod      = errors.New("invalid_period")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidRef         = errors.New("invalid_record_ref")
	ErrNotFound           = errors.New("document_not_found")
	ErrConflict           = errors.New("concurrent_update_conflict")
	ErrNotDelivered       = errors.New("notification_not_delivered")
)

// Error carries the failing operation and document path.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func NewError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// DataAccess wraps a store failure.
func DataAccess(op, path string, err error) *Error {
	return NewError(KindDataAccess, op, path, err)
}

// Validation wraps an input failure.
func Validation(op, path string, err error) *Error {
	return NewError(KindValidation, op, path, err)
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return KindGeneral
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
