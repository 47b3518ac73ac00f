package memory

import (
	"errors"
	"fmt"
)

// ProviderError means the embedding provider exhausted its retry budget or
// returned a non-retryable response.
type ProviderError struct {
	Attempts int
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider failed after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// IsProviderError checks if an error is a ProviderError (including wrapped errors).
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IndexUnavailableError means the vector index was unreachable or rejected an
// operation. A write that only partially succeeded is reported with this, not
// as a success.
type IndexUnavailableError struct {
	Op    string
	Cause error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("vector index unavailable during %s: %v", e.Op, e.Cause)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Cause }

// IsIndexUnavailable checks if an error is an IndexUnavailableError.
func IsIndexUnavailable(err error) bool {
	var ie *IndexUnavailableError
	return errors.As(err, &ie)
}

// MetadataUnavailableError means the relational metadata store was unreachable.
type MetadataUnavailableError struct {
	Op    string
	Cause error
}

func (e *MetadataUnavailableError) Error() string {
	return fmt.Sprintf("metadata store unavailable during %s: %v", e.Op, e.Cause)
}

func (e *MetadataUnavailableError) Unwrap() error { return e.Cause }

// IsMetadataUnavailable checks if an error is a MetadataUnavailableError.
func IsMetadataUnavailable(err error) bool {
	var me *MetadataUnavailableError
	return errors.As(err, &me)
}

// InvalidRequestError is a caller error: bad filter combination, malformed id,
// out-of-range parameter.
type InvalidRequestError struct {
	Field   string
	Message string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// NewInvalidRequest constructs an InvalidRequestError.
func NewInvalidRequest(field, message string) *InvalidRequestError {
	return &InvalidRequestError{Field: field, Message: message}
}

// IsInvalidRequest checks if an error is an InvalidRequestError.
func IsInvalidRequest(err error) bool {
	var ve *InvalidRequestError
	return errors.As(err, &ve)
}
