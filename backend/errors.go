package backend

import (
	"errors"
	"time"
)

// Error represents a provider-neutral dispatch error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeConfiguration covers invalid experiment distributions and
	// references to unknown variant ids. Never retried.
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeTransport covers network and provider-side failures during
	// Execute. Eligible for the single built-in fallback.
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeTimeout covers a per-call timeout elapsing. Treated like any
	// other transport failure by callers.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeNotFound covers catalog misses. Fails the dispatch without
	// attempting a network call.
	ErrorTypeNotFound ErrorType = "not_found"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsConfigurationError checks if an error is a configuration error.
func IsConfigurationError(err error) bool {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Type == ErrorTypeConfiguration
	}
	return false
}

// IsTransportError checks if an error is a transport error.
func IsTransportError(err error) bool {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Type == ErrorTypeTransport || berr.Type == ErrorTypeTimeout
	}
	return false
}

// IsTimeoutError checks if an error is a timeout error.
func IsTimeoutError(err error) bool {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Type == ErrorTypeTimeout
	}
	return false
}

// IsNotFoundError checks if an error is a catalog-miss error.
func IsNotFoundError(err error) bool {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Type == ErrorTypeNotFound
	}
	return false
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Retryable
	}
	return false
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string) *Error {
	return &Error{
		Type:      ErrorTypeConfiguration,
		Message:   message,
		Retryable: false,
	}
}

// NewTransportError creates a new transport error.
func NewTransportError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeTransport,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeTimeout,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewNotFoundError creates a new catalog-miss error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:      ErrorTypeNotFound,
		Message:   message,
		Retryable: false,
	}
}

// MetaErrorType is the response metadata key under which the error category
// is recorded on failed responses.
const MetaErrorType = "error_type"

// NewErrorResponse builds a failed Response for the given variant.
// Output is left empty, the error string is populated, and Duration reflects
// the elapsed wait since start. The error category is recorded in metadata.
func NewErrorResponse(variant string, start time.Time, err *Error) *Response {
	resp := &Response{
		Variant:   variant,
		Timestamp: start,
		Duration:  time.Since(start),
		Error:     err.Error(),
	}
	resp.SetMeta(MetaErrorType, string(err.Type))
	return resp
}
