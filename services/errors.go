package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeProtocol     ErrorType = "protocol_invalid"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeDependency   ErrorType = "dependency"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	detailed := *e
	detailed.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		detailed.Details[k] = v
	}
	detailed.Details[key] = value
	return &detailed
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrProtocolNotFound = NewDomainError(ErrorTypeNotFound, "protocol not found", nil)
	ErrDraftNotFound    = NewDomainError(ErrorTypeNotFound, "protocol draft not found", nil)
	ErrVersionNotFound  = NewDomainError(ErrorTypeNotFound, "protocol version not found", nil)
	ErrApprovalNotFound = NewDomainError(ErrorTypeNotFound, "publish approval not found", nil)
	ErrRunNotFound      = NewDomainError(ErrorTypeNotFound, "run not found", nil)
	ErrGatewayNotFound  = NewDomainError(ErrorTypeNotFound, "gateway not found", nil)
	ErrEventNotFound    = NewDomainError(ErrorTypeNotFound, "event not found", nil)

	// Validation Errors
	ErrInvalidInput     = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyContent     = NewDomainError(ErrorTypeValidation, "protocol content cannot be empty", nil)
	ErrInvalidCursor    = NewDomainError(ErrorTypeValidation, "invalid pagination cursor", nil)
	ErrShortIdemTTL     = NewDomainError(ErrorTypeValidation, "idempotency ttl below minimum", nil)
	ErrEmptyTelemetry   = NewDomainError(ErrorTypeValidation, "telemetry batch cannot be empty", nil)
	ErrMissingRunFields = NewDomainError(ErrorTypeValidation, "run requires protocol, version and gateway", nil)

	// Protocol Document Errors
	ErrProtocolInvalid = NewDomainError(ErrorTypeProtocol, "protocol document failed validation", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Permission Errors
	ErrForbidden      = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrTenantMismatch = NewDomainError(ErrorTypeForbidden, "tenant mismatch", nil)
	ErrSelfApproval   = NewDomainError(ErrorTypeForbidden, "publisher cannot consume their own approval", nil)

	// Conflict Errors
	ErrDuplicateProtocol   = NewDomainError(ErrorTypeConflict, "protocol already exists", nil)
	ErrDuplicateRun        = NewDomainError(ErrorTypeConflict, "run already exists", nil)
	ErrApprovalNotPending  = NewDomainError(ErrorTypeConflict, "approval is not pending", nil)
	ErrApprovalNotApproved = NewDomainError(ErrorTypeConflict, "approval is not in approved state", nil)
	ErrApprovalConsumed    = NewDomainError(ErrorTypeConflict, "approval already consumed", nil)
	ErrRunNotRunning       = NewDomainError(ErrorTypeConflict, "run is not running", nil)
	ErrRunAlreadyAborted   = NewDomainError(ErrorTypeConflict, "run already aborted", nil)
	ErrRunFinished         = NewDomainError(ErrorTypeConflict, "run is in a terminal state", nil)
	ErrIdempotencyMismatch = NewDomainError(ErrorTypeConflict, "idempotency key reused with a different payload", nil)

	// Internal Errors
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError     = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrTransactionFailed = NewDomainError(ErrorTypeInternal, "transaction failed", nil)
	ErrChainCorrupted    = NewDomainError(ErrorTypeInternal, "evidence chain verification failed", nil)

	// Dependency Errors
	ErrSinkUnavailable = NewDomainError(ErrorTypeDependency, "delivery sink unavailable", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsProtocolError checks if an error is a protocol document error
func IsProtocolError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeProtocol
	}
	return false
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeUnauthorized
	}
	return false
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeForbidden
	}
	return false
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeConflict
	}
	return false
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInternal
	}
	return false
}

// IsDependencyError checks if an error is a downstream dependency error
func IsDependencyError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeDependency
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
