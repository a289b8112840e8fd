// Package errors classifies the failures of a training run. Every error that
// reaches a binary carries a Kind so the process can exit with a code that
// tells config mistakes, bad data and numeric blow-ups apart.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the class of a fatal error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig covers bad flags and missing or unreadable input paths.
	KindConfig
	// KindData covers malformed samples, batches and label files.
	KindData
	// KindNumeric covers non-finite losses.
	KindNumeric
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindData:
		return "data"
	case KindNumeric:
		return "numeric"
	default:
		return "unknown"
	}
}

// ExitCode is the process exit status for errors of this kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindConfig:
		return 2
	case KindData:
		return 3
	case KindNumeric:
		return 4
	default:
		return 1
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Cause() error  { return e.err }
func (e *kindError) Unwrap() error { return e.err }

// Errorf is re-exported from fmt
var Errorf = fmt.Errorf

// WithStack is re-exported from github.com/pkg/errors
var WithStack = errors.WithStack

// Cause is re-exported from github.com/pkg/errors
var Cause = errors.Cause

// Is is re-exported from github.com/pkg/errors
var Is = errors.Is

// As is re-exported from github.com/pkg/errors
var As = errors.As

func newKind(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, err: errors.Errorf(format, args...)}
}

func wrapKind(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: errors.WithMessage(err, fmt.Sprintf(format, args...))}
}

// Config returns a new configuration error.
func Config(format string, args ...interface{}) error {
	return newKind(KindConfig, format, args...)
}

// Data returns a new data error.
func Data(format string, args ...interface{}) error {
	return newKind(KindData, format, args...)
}

// Numeric returns a new numeric error.
func Numeric(format string, args ...interface{}) error {
	return newKind(KindNumeric, format, args...)
}

// WrapConfig marks err as a configuration error. It returns nil for a nil err.
func WrapConfig(err error, format string, args ...interface{}) error {
	return wrapKind(KindConfig, err, format, args...)
}

// WrapData marks err as a data error. It returns nil for a nil err.
func WrapData(err error, format string, args ...interface{}) error {
	return wrapKind(KindData, err, format, args...)
}

// WrapNumeric marks err as a numeric error. It returns nil for a nil err.
func WrapNumeric(err error, format string, args ...interface{}) error {
	return wrapKind(KindNumeric, err, format, args...)
}

// Wrapf adds context to err and keeps its kind. It returns nil for a nil err.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(err, fmt.Sprintf(format, args...))
}

// KindOf returns the outermost kind found in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}
