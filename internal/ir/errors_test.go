package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageCarriesContext(t *testing.T) {
	err := Errorf(ErrCodeSerialization, "cannot serialize value of kind %s", KindModel).
		WithKey("reference").
		WithPath("/PCA")

	msg := err.Error()
	assert.Contains(t, msg, "SERIALIZATION")
	assert.Contains(t, msg, "key=reference")
	assert.Contains(t, msg, "path=/PCA")
}

func TestErrorHelpersSeeThroughWrapping(t *testing.T) {
	base := Errorf(ErrCodeShape, "batch has 3 features, accumulator has 2")
	wrapped := fmt.Errorf("fit update: %w", base)

	assert.True(t, IsShapeError(wrapped))
	assert.False(t, IsNotFittedError(wrapped))
	assert.False(t, IsShapeError(errors.New("plain")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Errorf(ErrCodeSerialization, "write node").Wrap(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}

func TestErrorCodes(t *testing.T) {
	checks := map[ErrorCode]func(error) bool{
		ErrCodeConfiguration:      IsConfigurationError,
		ErrCodeShape:              IsShapeError,
		ErrCodeNotFitted:          IsNotFittedError,
		ErrCodeSerialization:      IsSerializationError,
		ErrCodeUnrecognizedFormat: IsUnrecognizedFormatError,
		ErrCodeAlreadyExists:      IsAlreadyExistsError,
		ErrCodeKeyNotFound:        IsKeyNotFoundError,
		ErrCodeType:               IsTypeError,
	}
	for code, check := range checks {
		assert.True(t, check(Errorf(code, "x")), string(code))
	}
}
