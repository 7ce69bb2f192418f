// Package errors provides the error taxonomy for the coverage pipeline.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Config represents invalid or missing arguments and paths.
	Config
	// IO represents filesystem failures (root, source file, output).
	IO
	// Parse represents a call site that could not be decomposed.
	Parse
	// Load represents a malformed canonical list.
	Load
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case Config:
		return "config"
	case IO:
		return "io"
	case Parse:
		return "parse"
	case Load:
		return "load"
	default:
		return "unknown"
	}
}

// ExitCode returns the process exit code for errors of this type.
func (t ErrorType) ExitCode() int {
	switch t {
	case Config:
		return 2
	case IO:
		return 3
	case Load:
		return 4
	default:
		return 1
	}
}

// MapError represents a categorized pipeline error.
type MapError struct {
	Type      ErrorType
	Path      string
	Line      int
	Operation string
	Message   string
	Cause     error
	// Fatal is set when the error makes the final report meaningless.
	Fatal bool
}

// Error implements the error interface.
func (e *MapError) Error() string {
	where := e.Path
	if e.Line > 0 {
		where = fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Type.String(), e.Operation, where, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Type.String(), e.Operation, where, e.Message)
}

// Unwrap returns the underlying error.
func (e *MapError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target.
func (e *MapError) Is(target error) bool {
	t, ok := target.(*MapError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewMapError creates a new MapError.
func NewMapError(errType ErrorType, path, operation, message string, cause error) *MapError {
	return &MapError{
		Type:      errType,
		Path:      path,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Fatal:     errType == Config || errType == Load,
	}
}

// NewConfigError creates a configuration error. Always fatal.
func NewConfigError(path, message string) *MapError {
	return NewMapError(Config, path, "configure", message, nil)
}

// NewIOError creates an IO error. Root and output failures pass fatal=true;
// per-file read failures are recovered by the scanner.
func NewIOError(path, operation string, cause error, fatal bool) *MapError {
	err := NewMapError(IO, path, operation, "io failure", cause)
	err.Fatal = fatal
	return err
}

// NewParseError creates a parse error for a dropped call site.
func NewParseError(path string, line int, message string) *MapError {
	err := NewMapError(Parse, path, "extract", message, nil)
	err.Line = line
	return err
}

// NewLoadError creates a canonical list error. Always fatal.
func NewLoadError(path string, line int, message string, cause error) *MapError {
	err := NewMapError(Load, path, "load", message, cause)
	err.Line = line
	return err
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var mapErr *MapError
	if errors.As(err, &mapErr) {
		return mapErr.Type
	}
	return Unknown
}

// IsFatal reports whether err should abort the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var mapErr *MapError
	if errors.As(err, &mapErr) {
		return mapErr.Fatal
	}
	return true
}

// ExitCode maps err to a process exit code. nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return GetErrorType(err).ExitCode()
}

// IsLoadError checks if an error came from loading the canonical list.
func IsLoadError(err error) bool {
	return GetErrorType(err) == Load
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool {
	return GetErrorType(err) == Config
}
