package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// NoBackendsAvailableError is returned when selection has nothing to choose from:
// no backends are registered, or none of the requested backends are registered.
type NoBackendsAvailableError struct {
	Strategy  string   `json:"strategy,omitempty"`
	Requested []string `json:"requested,omitempty"`
}

func (e *NoBackendsAvailableError) Error() string {
	if len(e.Requested) > 0 {
		return fmt.Sprintf("no backends available for strategy %s (requested: %s)",
			e.Strategy, strings.Join(e.Requested, ", "))
	}
	if e.Strategy != "" {
		return fmt.Sprintf("no backends available for strategy %s", e.Strategy)
	}
	return "no backends available"
}

// UnknownBackendError reports a reference to a backend that is not registered
type UnknownBackendError struct {
	Backend string `json:"backend"`
	Context string `json:"context,omitempty"`
}

func (e *UnknownBackendError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("unknown backend '%s' in %s", e.Backend, e.Context)
	}
	return fmt.Sprintf("unknown backend '%s'", e.Backend)
}

// ValidationError represents parameter validation errors
type ValidationError struct {
	Parameter string `json:"parameter"`
	Message   string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for parameter '%s': %s", e.Parameter, e.Message)
}

// IncompatibleVersionError is returned when an imported routing document
// was written by an unsupported format version.
type IncompatibleVersionError struct {
	Version    string `json:"version"`
	Constraint string `json:"constraint"`
	Cause      error  `json:"cause,omitempty"`
}

func (e *IncompatibleVersionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("routing document version %q does not satisfy %s: %v", e.Version, e.Constraint, e.Cause)
	}
	return fmt.Sprintf("routing document version %q does not satisfy %s", e.Version, e.Constraint)
}

func (e *IncompatibleVersionError) Unwrap() error {
	return e.Cause
}

// PersistenceError wraps failures of the routing state stores
type PersistenceError struct {
	Store     string `json:"store"`
	Operation string `json:"operation"`
	Cause     error  `json:"cause,omitempty"`
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s store %s failed: %v", e.Store, e.Operation, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// Error constructors

// NewNoBackendsAvailableError creates an error for an empty candidate set
func NewNoBackendsAvailableError(strategy string, requested []string) *NoBackendsAvailableError {
	return &NoBackendsAvailableError{
		Strategy:  strategy,
		Requested: requested,
	}
}

// NewUnknownBackendError creates an error for a reference to an unregistered backend
func NewUnknownBackendError(backend, where string) *UnknownBackendError {
	return &UnknownBackendError{
		Backend: backend,
		Context: where,
	}
}

// NewValidationError creates a new validation error for the specified parameter
func NewValidationError(parameter, message string) *ValidationError {
	return &ValidationError{
		Parameter: parameter,
		Message:   message,
	}
}

// NewIncompatibleVersionError creates an error for an unsupported document version
func NewIncompatibleVersionError(version, constraint string, cause error) *IncompatibleVersionError {
	return &IncompatibleVersionError{
		Version:    version,
		Constraint: constraint,
		Cause:      cause,
	}
}

// NewPersistenceError creates a store failure error
func NewPersistenceError(store, operation string, cause error) *PersistenceError {
	return &PersistenceError{
		Store:     store,
		Operation: operation,
		Cause:     cause,
	}
}

// Error classification functions

// IsNoBackendsAvailableError checks if the error reports an empty candidate set
func IsNoBackendsAvailableError(err error) bool {
	var target *NoBackendsAvailableError
	return stderrors.As(err, &target)
}

// IsUnknownBackendError checks if the error references an unregistered backend
func IsUnknownBackendError(err error) bool {
	var target *UnknownBackendError
	return stderrors.As(err, &target)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	var target *ValidationError
	return stderrors.As(err, &target)
}

// IsIncompatibleVersionError checks if the error rejects a document version
func IsIncompatibleVersionError(err error) bool {
	var target *IncompatibleVersionError
	return stderrors.As(err, &target)
}

// IsPersistenceError checks if the error came from a state store
func IsPersistenceError(err error) bool {
	var target *PersistenceError
	return stderrors.As(err, &target)
}

// IsCancellationError checks if the error is a cancellation error
func IsCancellationError(err error) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

// IsClientError reports whether the error was caused by caller input
// rather than by the router itself.
func IsClientError(err error) bool {
	return IsUnknownBackendError(err) || IsValidationError(err) || IsIncompatibleVersionError(err)
}

// Error wrapping utilities

// WrapWithContext wraps an error with operation context
func WrapWithContext(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// WrapValidationError wraps an error as a validation error
func WrapValidationError(parameter string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{
		Parameter: parameter,
		Message:   err.Error(),
	}
}
