package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches on the error code so wrapped copies of a sentinel compare equal.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrap attaches a cause to a sentinel while keeping its code and message.
func Wrap(sentinel *DomainError, err error) *DomainError {
	return NewDomainErrorWithCause(sentinel.Code, sentinel.Message, err)
}

// CodeOf returns the code of the first DomainError in the chain, or "".
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Common domain error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAlreadyExists       = "ALREADY_EXISTS"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeInvalidOperation    = "INVALID_OPERATION"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeMalformedOutput     = "MALFORMED_OUTPUT"
	ErrCodeUnresolvable        = "UNRESOLVABLE"
	ErrCodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
)

// Validation errors
var (
	ErrInvalidSourceType     = NewDomainError(ErrCodeValidation, "invalid source type")
	ErrInvalidChunkType      = NewDomainError(ErrCodeValidation, "invalid chunk type")
	ErrInvalidCategory       = NewDomainError(ErrCodeValidation, "invalid assumption category")
	ErrInvalidTimeHorizon    = NewDomainError(ErrCodeValidation, "invalid time horizon")
	ErrInvalidTimeframe      = NewDomainError(ErrCodeValidation, "invalid dominant timeframe")
	ErrInvalidIndexJobStatus = NewDomainError(ErrCodeValidation, "invalid index job status")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
	ErrEmptySourceContent    = NewDomainError(ErrCodeValidation, "source content is empty")
	ErrInvalidConfidence     = NewDomainError(ErrCodeValidation, "confidence must be within [0,1]")
	ErrInvalidChunkHierarchy = NewDomainError(ErrCodeValidation, "invalid chunk hierarchy")
	ErrPayloadTooLarge       = NewDomainError(ErrCodePayloadTooLarge, "request body too large")
)

// Not found errors
var (
	ErrSourceNotFound      = NewDomainError(ErrCodeNotFound, "source not found")
	ErrAssumptionNotFound  = NewDomainError(ErrCodeNotFound, "assumption not found")
	ErrAttributionNotFound = NewDomainError(ErrCodeNotFound, "price attribution not found")
	ErrActualNotFound      = NewDomainError(ErrCodeNotFound, "actual value not available")
	ErrArchiveNotFound     = NewDomainError(ErrCodeNotFound, "source has no archived copy")
)

// Operation errors
var (
	ErrAssumptionTerminal = NewDomainError(ErrCodeInvalidOperation, "assumption is already verified or failed")
	ErrMissingMetric      = NewDomainError(ErrCodeInvalidOperation, "assumption has no metric name")
)

// Upstream and model output errors
var (
	ErrUpstreamUnavailable = NewDomainError(ErrCodeUpstreamUnavailable, "upstream service unavailable")
	ErrMalformedOutput     = NewDomainError(ErrCodeMalformedOutput, "generation output does not match schema")
	ErrUnresolvable        = NewDomainError(ErrCodeUnresolvable, "comparison could not be resolved")
)
