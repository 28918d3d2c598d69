// Package services provides the application-facing operations on generation
// runs, plus standardized error types for the API layer to map onto HTTP
// statuses.
package services

import (
	"errors"
	"fmt"

	"github.com/storyreel/storyreel/pkg/persistence"
	"github.com/storyreel/storyreel/pkg/queue"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrTextRequired     = errors.New("story text is required")
	ErrTextTooShort     = errors.New("story text is too short")
	ErrTextTooLong      = errors.New("story text is too long")
	ErrTextNotPrintable = errors.New("story text contains unsupported control characters")
	ErrInvalidLanguage  = errors.New("invalid target language")
	ErrEmptyOwnerID     = errors.New("owner ID cannot be empty")

	// Business Logic Conflicts (409 Conflict).
	ErrRunAlreadyTerminal = errors.New("run already in a terminal state")

	// Not Found (404).
	ErrRunNotFound = persistence.ErrRunNotFound

	// Overload (429 Too Many Requests).
	ErrOverloaded = queue.ErrOverloaded
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrTextRequired) ||
		errors.Is(err, ErrTextTooShort) ||
		errors.Is(err, ErrTextTooLong) ||
		errors.Is(err, ErrTextNotPrintable) ||
		errors.Is(err, ErrInvalidLanguage) ||
		errors.Is(err, ErrEmptyOwnerID)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrRunAlreadyTerminal)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsOverloadedError checks if an error should return HTTP 429.
func IsOverloadedError(err error) bool {
	return errors.Is(err, ErrOverloaded)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
