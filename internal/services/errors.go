package services

import "github.com/pkg/errors"

// Kind classifies a service error for the transport layer
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
	KindPersistence
	KindUnavailable
)

// String returns the error code clients see
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

// Error is returned by every service operation that rejects or fails a
// request. Message is safe to show to clients; Err is the internal cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports a malformed request
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NewNotFoundError reports a referenced entity that does not exist
func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// NewConflictError reports a request that breaks a business rule
func NewConflictError(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// NewPersistenceError reports a store failure
func NewPersistenceError(message string, cause error) *Error {
	return &Error{Kind: KindPersistence, Message: message, Err: cause}
}

// NewUnavailableError reports a disabled or unreachable dependency
func NewUnavailableError(message string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Err: cause}
}

// KindOf returns the kind of a service error in err's chain, or zero
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return 0
}

func IsValidation(err error) bool  { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool    { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool    { return KindOf(err) == KindConflict }
func IsPersistence(err error) bool { return KindOf(err) == KindPersistence }
