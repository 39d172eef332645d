package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes errors raised by estimators, the codec and the store.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates an invalid or missing option, or a
	// malformed estimator schema.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeShape indicates a batch whose dimensionality disagrees with the
	// accumulator.
	ErrCodeShape ErrorCode = "SHAPE"

	// ErrCodeNotFitted indicates an estimate was requested before any data
	// was absorbed.
	ErrCodeNotFitted ErrorCode = "NOT_FITTED"

	// ErrCodeSerialization indicates an unsupported value on write or a
	// corrupted node on read.
	ErrCodeSerialization ErrorCode = "SERIALIZATION"

	// ErrCodeUnrecognizedFormat indicates a container whose format tag or
	// version is not the one this build reads.
	ErrCodeUnrecognizedFormat ErrorCode = "UNRECOGNIZED_FORMAT"

	// ErrCodeAlreadyExists indicates a write-mode open onto an existing path.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// ErrCodeKeyNotFound indicates a lookup of an unknown sequence key.
	ErrCodeKeyNotFound ErrorCode = "KEY_NOT_FOUND"

	// ErrCodeType indicates a value of the wrong type was supplied.
	ErrCodeType ErrorCode = "TYPE"
)

// Error carries a code plus the context a command-line caller needs to
// report the failure without re-deriving it.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key names the offending parameter, estimate or sequence key.
	Key string

	// Path is the container path or node the error refers to.
	Path string

	// Err is an optional underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	var ctx []string
	if e.Key != "" {
		ctx = append(ctx, "key="+e.Key)
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithKey returns e with Key set.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithPath returns e with Path set.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// Wrap returns e with an underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// HasCode reports whether err, or anything it wraps, is an *Error with code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsConfigurationError returns true if err is a configuration error.
func IsConfigurationError(err error) bool { return HasCode(err, ErrCodeConfiguration) }

// IsShapeError returns true if err is a shape mismatch error.
func IsShapeError(err error) bool { return HasCode(err, ErrCodeShape) }

// IsNotFittedError returns true if err reports an unfitted estimator.
func IsNotFittedError(err error) bool { return HasCode(err, ErrCodeNotFitted) }

// IsSerializationError returns true if err is a serialization error.
func IsSerializationError(err error) bool { return HasCode(err, ErrCodeSerialization) }

// IsUnrecognizedFormatError returns true if err reports a foreign container.
func IsUnrecognizedFormatError(err error) bool { return HasCode(err, ErrCodeUnrecognizedFormat) }

// IsAlreadyExistsError returns true if err reports an existing path.
func IsAlreadyExistsError(err error) bool { return HasCode(err, ErrCodeAlreadyExists) }

// IsKeyNotFoundError returns true if err reports an unknown sequence key.
func IsKeyNotFoundError(err error) bool { return HasCode(err, ErrCodeKeyNotFound) }

// IsTypeError returns true if err reports a value of the wrong type.
func IsTypeError(err error) bool { return HasCode(err, ErrCodeType) }
