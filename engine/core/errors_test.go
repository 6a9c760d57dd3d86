package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShaderErrorsKeepDiagnostics(t *testing.T) {
	compile := &ShaderCompilationError{Stage: "fragment", Log: "0:3: 'vec5' : undeclared identifier"}
	assert.ErrorIs(t, compile, ErrResourceCreation)
	assert.Equal(t, "error compiling fragment shader: 0:3: 'vec5' : undeclared identifier", compile.Error())

	link := &ShaderLinkError{Log: "varying `uv` not written"}
	assert.ErrorIs(t, link, ErrResourceCreation)
	assert.Contains(t, link.Error(), "varying `uv` not written")

	var target *ShaderCompilationError
	wrapped := NewResourceCreationError("shader set", compile)
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "fragment", target.Stage)
}

func TestResourceCreationErrorWrapsCause(t *testing.T) {
	cause := errors.New("out of device memory")
	err := NewResourceCreationError("texture", cause)
	assert.ErrorIs(t, err, ErrResourceCreation)
	assert.ErrorIs(t, err, cause)
}

func TestPreconditionAndBackendErrors(t *testing.T) {
	err := fmt.Errorf("draw: %w", NewPreconditionError("DrawIndexedPrimitives", "no index buffer bound"))
	assert.ErrorIs(t, err, ErrPreconditionViolation)
	assert.NotErrorIs(t, err, ErrResourceCreation)

	be := &BackendError{Call: "BufferSubData", Code: "INVALID_VALUE"}
	assert.ErrorIs(t, be, ErrBackendCall)
	assert.ErrorIs(t, be, ErrPreconditionViolation)
	assert.ErrorIs(t, ErrUnsupportedFormat, ErrPreconditionViolation)
}
