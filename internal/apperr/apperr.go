// Package apperr defines the error kinds returned by the allocation and
// lifecycle engines.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. A Kind is itself an error so callers can
// write errors.Is(err, apperr.BinMismatch).
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	InvalidWashCode           Kind = "InvalidWashCode"
	InvalidQuantity           Kind = "InvalidQuantity"
	InvalidModification       Kind = "InvalidModification"
	InvalidInput              Kind = "InvalidInput"
	OrderNotFound             Kind = "OrderNotFound"
	UnitNotFound              Kind = "UnitNotFound"
	CustomerNotFound          Kind = "CustomerNotFound"
	BinNotFound               Kind = "BinNotFound"
	ProductionRequestNotFound Kind = "ProductionRequestNotFound"
	InvalidStageForScanType   Kind = "InvalidStageForScanType"
	BinMismatch               Kind = "BinMismatch"
	InvalidBinType            Kind = "InvalidBinType"
	BinAtCapacity             Kind = "BinAtCapacity"
	NoCapacity                Kind = "NoCapacity"
	AlreadyActivated          Kind = "AlreadyActivated"
	AllocationConflict        Kind = "AllocationConflict"
)

// Error carries a kind plus a human readable detail.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is matches the error's kind, so errors.Is works against bare Kind values.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind with a formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind that wraps err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// Detail returns the detail of the first *Error in err's chain, falling back
// to err.Error().
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
