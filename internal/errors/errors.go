// Package errors holds the sentinel errors shared by every pipeline stage,
// the fatal-restart error type and the config validation collector.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Process exit codes
// ============================================================================

const (
	// ExitOK is returned after a graceful stop.
	ExitOK = 0

	// ExitStartup is returned when configuration or a sink cannot be opened.
	ExitStartup = 1

	// ExitRestart asks the supervisor to restart the process (EX_TEMPFAIL).
	ExitRestart = 75
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Acquisition errors
	ErrAcquireFailed = errors.New("snapshot acquisition failed")
	ErrNoTags        = errors.New("no tags configured")
	ErrUnsupported   = errors.New("unsupported value type")

	// Sink errors
	ErrSinkWrite         = errors.New("sink write failed")
	ErrDeliveryExhausted = errors.New("delivery attempts exhausted")
	ErrBadStatus         = errors.New("unexpected response status")

	// Liveness errors
	ErrStall = errors.New("liveness stalled")

	// Queue / state errors
	ErrQueueFull = errors.New("queue full")
	ErrNotFound  = errors.New("not found")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsRetriable returns true if the error is potentially retriable.
// Storage writes and acquisition failures are retried forever; delivery
// exhaustion and stalls are not.
func IsRetriable(err error) bool {
	if IsFatal(err) {
		return false
	}
	return errors.Is(err, ErrSinkWrite) ||
		errors.Is(err, ErrAcquireFailed) ||
		errors.Is(err, ErrBadStatus) ||
		errors.Is(err, ErrQueueFull)
}

// IsFatal returns true if err must end the process with ExitRestart.
func IsFatal(err error) bool {
	var fe *FatalError
	if errors.As(err, &fe) {
		return true
	}
	return errors.Is(err, ErrDeliveryExhausted) || errors.Is(err, ErrStall)
}

// ============================================================================
// Fatal restart requests
// ============================================================================

// FatalError is a restart request raised by a pipeline component.
type FatalError struct {
	Component string
	Err       error
}

// NewFatal creates a FatalError for component.
func NewFatal(component string, err error) *FatalError {
	return &FatalError{Component: component, Err: err}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal in %s: %v", e.Component, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code for the restart request.
func (e *FatalError) ExitCode() int { return ExitRestart }

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap exposes every collected error to errors.Is/As.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
