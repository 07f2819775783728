// Package errors provides structured error types for metaextract.
//
// Every failure of the extraction pipeline is fatal to the current invocation
// and surfaces as an *Error carrying a machine-readable Code plus enough
// context (archive path, directory path, or captured subprocess output) to
// diagnose it without re-running in verbose mode.
//
// # Error Codes
//
// The pipeline stages map onto these codes:
//   - ARCHIVE_NOT_FOUND, UNSUPPORTED_ARCHIVE_FORMAT, CORRUPT_ARCHIVE,
//     UNSAFE_ARCHIVE_ENTRY, ARCHIVE_TOO_LARGE: archive extraction
//   - MISSING_BUILD_SCRIPT, SUBPROCESS_FAILURE, SUBPROCESS_TIMEOUT: build script execution
//   - MALFORMED_OUTPUT: collaborator output parsing
//   - INVALID_*, INTERNAL_ERROR: everything else
//
// # Usage
//
//	err := errors.New(errors.ErrCodeArchiveNotFound, "archive %q does not exist", path)
//	if errors.Is(err, errors.ErrCodeArchiveNotFound) {
//	    // Handle missing input
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeMalformedOutput, origErr, "parse %s", outPath)
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Archive errors
	ErrCodeArchiveNotFound    Code = "ARCHIVE_NOT_FOUND"
	ErrCodeUnsupportedArchive Code = "UNSUPPORTED_ARCHIVE_FORMAT"
	ErrCodeCorruptArchive     Code = "CORRUPT_ARCHIVE"
	ErrCodeUnsafeArchiveEntry Code = "UNSAFE_ARCHIVE_ENTRY"
	ErrCodeArchiveTooLarge    Code = "ARCHIVE_TOO_LARGE"

	// Build script errors
	ErrCodeMissingBuildScript Code = "MISSING_BUILD_SCRIPT"
	ErrCodeSubprocessFailure  Code = "SUBPROCESS_FAILURE"
	ErrCodeSubprocessTimeout  Code = "SUBPROCESS_TIMEOUT"
	ErrCodeMalformedOutput    Code = "MALFORMED_OUTPUT"

	// Input validation errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// ExitError describes a build script subprocess that exited unsuccessfully
// after all attempts were spent.
type ExitError struct {
	ExitCode int    // Exit status of the last attempt (-1 if killed by a signal)
	Output   string // Combined stdout and stderr of the last attempt
	Attempts int    // Number of attempts made
}

// Error implements the error interface. The captured output is included so a
// CLI user sees what the build script printed.
func (e *ExitError) Error() string {
	out := strings.TrimRight(e.Output, "\n")
	if out == "" {
		return fmt.Sprintf("exit status %d after %d attempt(s)", e.ExitCode, e.Attempts)
	}
	return fmt.Sprintf("exit status %d after %d attempt(s):\n%s", e.ExitCode, e.Attempts, out)
}

// AsExitError returns the *ExitError in err's chain, if any.
func AsExitError(err error) (*ExitError, bool) {
	var e *ExitError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
