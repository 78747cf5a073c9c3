package billing

import (
	"errors"
	"fmt"
)

// Error kinds classify billing failures so HTTP mapping and retry policy can
// be decided at the boundary without string matching.
type ErrorKind string

const (
	ErrKindValidation     ErrorKind = "validation"
	ErrKindAuthentication ErrorKind = "authentication"
	ErrKindConflict       ErrorKind = "conflict"
	ErrKindGateway        ErrorKind = "gateway"
	ErrKindTransient      ErrorKind = "transient"
)

// Error is the billing error type. Retryable is only meaningful for gateway
// and transient kinds; validation, authentication and conflict errors are
// never retried.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewValidationError reports bad caller input. Never retried.
func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrKindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewAuthenticationError reports a signature or authorization failure.
func NewAuthenticationError(message string) *Error {
	return &Error{Kind: ErrKindAuthentication, Message: message}
}

// NewConflictError reports a state transition that is not permitted from the
// current subscription status.
func NewConflictError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrKindConflict, Message: fmt.Sprintf(format, args...)}
}

// NewGatewayError wraps a failed external gateway call. Retryability follows
// the gateway's own error classification.
func NewGatewayError(message string, retryable bool, cause error) *Error {
	return &Error{Kind: ErrKindGateway, Message: message, Retryable: retryable, Cause: cause}
}

// NewTransientError wraps a datastore or network hiccup. Always retryable up
// to the attempt bound.
func NewTransientError(message string, cause error) *Error {
	return &Error{Kind: ErrKindTransient, Message: message, Retryable: true, Cause: cause}
}

// KindOf returns the billing error kind, or ErrKindTransient for errors that
// did not originate in this package. Unknown infrastructure errors are
// treated as retryable rather than silently dropped.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ErrKindTransient
}

// IsRetryable reports whether the error may succeed on a later attempt.
func IsRetryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable
	}
	// Non-billing errors are infrastructure failures by definition.
	return true
}
