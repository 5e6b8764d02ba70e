package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrEngine signals a backend connectivity, auth, or server-side failure.
	ErrEngine = errors.New("engine error")
	// ErrValidation signals malformed options, an unknown engine type, or a schema mismatch.
	ErrValidation = errors.New("validation error")
	// ErrResolver signals a field resolver failure on a specific item/field.
	ErrResolver = errors.New("resolver error")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrSwapNotSupported signals that the backend has no alias indirection.
	ErrSwapNotSupported = errors.New("atomic swap not supported by engine")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// ValidationError wraps ErrValidation with the name of the offending option or field.
type ValidationError struct {
	Option string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Option, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a validation error naming the offending option.
func NewValidationError(option, reason string) error {
	return &ValidationError{Option: option, Reason: reason}
}
