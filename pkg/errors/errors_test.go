package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	cause := errors.New("bad input")

	assert.Equal(t, "[invalid_shape] shape mismatch", NewError(CodeInvalidShape, "shape mismatch", nil).Error())
	assert.Equal(t, "[invalid_shape] shape mismatch: bad input", NewError(CodeInvalidShape, "shape mismatch", cause).Error())
}

func TestError_IsMatchesCodeSentinel(t *testing.T) {
	tests := []struct {
		code     string
		sentinel error
	}{
		{CodeInvalidProperty, ErrInvalidProperty},
		{CodeMissingKey, ErrMissingKey},
		{CodeInvalidShape, ErrInvalidShape},
		{CodeInvalidDefinition, ErrInvalidDefinition},
		{CodeComputeFailed, ErrComputeFailed},
		{CodePublishFailed, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := NewError(tt.code, "msg", nil)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.NotErrorIs(t, err, ErrStreamEnded)
		})
	}
}

func TestError_UnknownCodeMatchesNothing(t *testing.T) {
	err := NewError("other", "msg", nil)
	assert.NotErrorIs(t, err, ErrInvalidProperty)
	assert.False(t, IsConfigError(err))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk gone")
	err := fmt.Errorf("outer: %w", NewError(CodeComputeFailed, "property \"x\"", cause))

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrComputeFailed)

	var derr *Error
	assert.ErrorAs(t, err, &derr)
	assert.Equal(t, CodeComputeFailed, derr.Code)
}

func TestInvalidProperty(t *testing.T) {
	err := InvalidProperty("age", "unsupported type %T", 1.5)

	assert.Equal(t, `property "age": unsupported type float64`, err.Message)
	assert.ErrorIs(t, err, ErrInvalidProperty)
	assert.True(t, IsConfigError(err))
}

func TestComputeFailed(t *testing.T) {
	cause := errors.New("division by zero")
	err := ComputeFailed("ratio", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrComputeFailed)
	assert.False(t, IsConfigError(err))
	assert.Contains(t, err.Error(), `property "ratio"`)
}

func TestIsConfigError(t *testing.T) {
	assert.True(t, IsConfigError(ErrMissingKey))
	assert.True(t, IsConfigError(fmt.Errorf("root.x: %w", ErrUnknownReference)))
	assert.True(t, IsConfigError(NewError(CodeInvalidDefinition, "trailing data", nil)))
	assert.False(t, IsConfigError(ErrPublishFailed))
	assert.False(t, IsConfigError(nil))
}

func TestIsNotConnected(t *testing.T) {
	assert.True(t, IsNotConnected(fmt.Errorf("%w: connection closed", ErrNotConnected)))
	assert.False(t, IsNotConnected(ErrPublishFailed))
}
