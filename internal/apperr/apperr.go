package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class. Kinds are stable strings: they are stored
// on job rows and returned over the API, so they must not be renamed.
type Kind string

const (
	KindParseError          Kind = "parse_error"
	KindUnknownField        Kind = "unknown_field"
	KindTypeMismatch        Kind = "type_mismatch"
	KindDegeneratePhenotype Kind = "degenerate_phenotype"
	KindCohortNotFound      Kind = "cohort_not_found"
	KindCorruptData         Kind = "corrupt_data"
	KindNumericInstability  Kind = "numeric_instability"
	KindComputationTimeout  Kind = "computation_timeout"
	KindCancelled           Kind = "cancelled"
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindStorageError        Kind = "storage_error"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind: errors.Is(err, &Error{Kind: KindCancelled}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from an error chain, or "" if the chain contains
// no *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Synchronous reports whether the kind is a submission-time validation
// failure. Synchronous kinds never reach the job table.
func Synchronous(kind Kind) bool {
	switch kind {
	case KindParseError, KindUnknownField, KindTypeMismatch, KindCapacityExceeded:
		return true
	}
	return false
}
