// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import "fmt"

// ErrorKind categorizes lowering errors.
type ErrorKind uint8

const (
	// ErrInvalidShader indicates a nil or malformed input shader.
	ErrInvalidShader ErrorKind = iota

	// ErrUnsupportedStage indicates a stage NGG cannot lower.
	ErrUnsupportedStage

	// ErrInvalidOptions indicates options the lowering cannot honor.
	ErrInvalidOptions

	// ErrSharedMemory indicates the shared memory layout exceeds the hardware limit.
	ErrSharedMemory

	// ErrInternal indicates the lowered shader failed validation.
	ErrInternal
)

// String returns a human-readable error kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidShader:
		return "InvalidShader"
	case ErrUnsupportedStage:
		return "UnsupportedStage"
	case ErrInvalidOptions:
		return "InvalidOptions"
	case ErrSharedMemory:
		return "SharedMemory"
	case ErrInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a recoverable lowering error.
type Error struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("ngg %s: %s", e.Kind, e.Message)
}

// newError creates a new Error with the given kind and formatted message.
func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FatalError is the panic value of a lowering that cannot produce a shader
// that is safe to run, such as a geometry shader without a stream 0 vertex
// and primitive count. Callers must not continue with the shader.
type FatalError struct {
	Shader  string
	Message string
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("ngg: fatal: %s: %s", e.Shader, e.Message)
}

// fatal logs the diagnostic and aborts the lowering.
func fatal(shader, format string, args ...any) {
	err := &FatalError{Shader: shader, Message: fmt.Sprintf(format, args...)}
	Logger().Error("ngg lowering aborted", "shader", shader, "reason", err.Message)
	panic(err)
}
