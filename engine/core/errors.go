package core

import (
	"errors"
	"fmt"
)

var (
	ErrSwapchainBooting      = errors.New("swapchain resized or recreated, booting")
	ErrResourceCreation      = errors.New("resource creation failed")
	ErrPreconditionViolation = errors.New("precondition violated")
	ErrUnsupportedFormat     = fmt.Errorf("unsupported format: %w", ErrPreconditionViolation)
	ErrBackendCall           = errors.New("backend call failed")
	ErrUnknown               = errors.New("unknown")
)

// ShaderCompilationError carries the compiler diagnostic of a single stage.
type ShaderCompilationError struct {
	Stage string
	Log   string
}

func (e *ShaderCompilationError) Error() string {
	return fmt.Sprintf("error compiling %s shader: %s", e.Stage, e.Log)
}

func (e *ShaderCompilationError) Is(target error) bool {
	return target == ErrResourceCreation
}

// ShaderLinkError carries the linker diagnostic of a whole program.
type ShaderLinkError struct {
	Log string
}

func (e *ShaderLinkError) Error() string {
	return fmt.Sprintf("error linking shader program: %s", e.Log)
}

func (e *ShaderLinkError) Is(target error) bool {
	return target == ErrResourceCreation
}

type PreconditionError struct {
	Op     string
	Reason string
}

func NewPreconditionError(op string, format string, args ...interface{}) *PreconditionError {
	return &PreconditionError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionViolation
}

// BackendError is produced when a native call reports an error code
// instead of failing outright.
type BackendError struct {
	Call string
	Code string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("native call %s reported %s", e.Call, e.Code)
}

func (e *BackendError) Is(target error) bool {
	return target == ErrBackendCall || target == ErrPreconditionViolation
}

// NewResourceCreationError tags cause as a creation failure of the given
// resource kind. Typed shader errors are returned as they are.
func NewResourceCreationError(kind string, cause error) error {
	var compileErr *ShaderCompilationError
	var linkErr *ShaderLinkError
	if errors.As(cause, &compileErr) || errors.As(cause, &linkErr) {
		return cause
	}
	if errors.Is(cause, ErrResourceCreation) {
		return fmt.Errorf("%s: %w", kind, cause)
	}
	return fmt.Errorf("%w: %s: %w", ErrResourceCreation, kind, cause)
}
