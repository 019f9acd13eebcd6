// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/workflow"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidInput   = errors.New("input does not match the workflow input schema")
	ErrEmptyOwnerID   = errors.New("owner ID cannot be empty")

	// Ownership Errors (403 Forbidden).
	ErrNotOwner = errors.New("caller does not own the workflow")

	// Business Logic Conflicts (409 Conflict).
	ErrWorkflowInactive    = errors.New("workflow is not active")
	ErrManualRunNotAllowed = errors.New("workflow triggers do not allow manual runs")
	ErrNotWaiting          = workflow.ErrNotWaiting
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	// ErrExecutionNotFound is returned when an execution is not found.
	ErrExecutionNotFound = persistence.ErrExecutionNotFound
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

// ValidationError lists every field problem found in a request. It matches
// its cause with errors.Is, ErrInvalidRequest unless stated otherwise.
type ValidationError struct {
	Errors []models.FieldError
	Err    error
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Errors))
	for _, fieldErr := range e.Errors {
		messages = append(messages, fieldErr.Error())
	}

	return fmt.Sprintf("%v: %s", e.cause(), strings.Join(messages, "; "))
}

func (e *ValidationError) Unwrap() error {
	return e.cause()
}

func (e *ValidationError) cause() error {
	if e.Err == nil {
		return ErrInvalidRequest
	}

	return e.Err
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, persistence.ErrInvalidCursor) ||
		errors.Is(err, persistence.ErrInvalidID)
}

// IsForbiddenError checks if an error should return HTTP 403.
func IsForbiddenError(err error) bool {
	return errors.Is(err, ErrNotOwner)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowInactive) ||
		errors.Is(err, ErrManualRunNotAllowed) ||
		errors.Is(err, ErrNotWaiting) ||
		errors.Is(err, persistence.ErrWorkflowAlreadyExists)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) || errors.Is(err, ErrExecutionNotFound)
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
