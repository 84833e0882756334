// Package engine turns declared systems into a schedulable unit graph and
// executes it with bounded parallelism, change detection, and failure
// propagation.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for propagation policy.
type ErrorClass string

const (
	// ErrorClassConfiguration is a malformed system definition, unresolvable
	// required key, or dependency cycle. Fatal; aborts before any side effect.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassResolution is a hierarchy source that exists but cannot be
	// read or parsed. Fatal for the run.
	ErrorClassResolution ErrorClass = "resolution"

	// ErrorClassExecution is a unit side effect that failed. Local to the
	// unit; descendants are blocked, siblings continue.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassProvider is a package manager invocation failure. Surfaces as
	// an execution failure of the owning unit.
	ErrorClassProvider ErrorClass = "provider"
)

// Error is a classified engine error with unit/system context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass

	// Message is the human-readable error message.
	Message string

	// Unit is the unit identifier the error belongs to, if any.
	Unit string

	// System is the owning system name, if any.
	System string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Unit != "" {
		msg += fmt.Sprintf(" (unit=%s)", e.Unit)
	} else if e.System != "" {
		msg += fmt.Sprintf(" (system=%s)", e.System)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on class, supporting errors.Is against class sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Message == "" || t.Message == e.Message)
}

// WithUnit attaches unit context.
func (e *Error) WithUnit(id string) *Error {
	e.Unit = id
	return e
}

// WithSystem attaches system context.
func (e *Error) WithSystem(name string) *Error {
	e.System = name
	return e
}

// NewConfigurationError creates a fatal configuration error.
func NewConfigurationError(message string, err error) *Error {
	return &Error{Class: ErrorClassConfiguration, Message: message, Err: err}
}

// NewResolutionError creates a fatal resolution error.
func NewResolutionError(message string, err error) *Error {
	return &Error{Class: ErrorClassResolution, Message: message, Err: err}
}

// NewExecutionError creates a unit-local execution error.
func NewExecutionError(message string, err error) *Error {
	return &Error{Class: ErrorClassExecution, Message: message, Err: err}
}

// NewProviderError creates a package provider error.
func NewProviderError(message string, err error) *Error {
	return &Error{Class: ErrorClassProvider, Message: message, Err: err}
}

// classOf extracts the class from an error chain.
func classOf(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConfiguration
}

// IsResolution reports whether err is a resolution error.
func IsResolution(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassResolution
}

// IsFatal reports whether err must abort the run before side effects.
func IsFatal(err error) bool {
	return IsConfiguration(err) || IsResolution(err)
}
