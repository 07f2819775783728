package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeArchiveNotFound, "test message: %s", "value")

	if err.Code != ErrCodeArchiveNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeArchiveNotFound)
	}

	if err.Message != "test message: value" {
		t.Errorf("Message = %v, want %v", err.Message, "test message: value")
	}

	expected := "ARCHIVE_NOT_FOUND: test message: value"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeSubprocessFailure, cause, "setup.py failed")

	if err.Code != ErrCodeSubprocessFailure {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeSubprocessFailure)
	}

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}

	// Test Unwrap
	unwrapped := errors.Unwrap(err)
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	// Test errors.Is with wrapped error
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{
			name:     "matching code",
			err:      New(ErrCodeInvalidInput, "test"),
			code:     ErrCodeInvalidInput,
			expected: true,
		},
		{
			name:     "non-matching code",
			err:      New(ErrCodeInvalidInput, "test"),
			code:     ErrCodeSubprocessFailure,
			expected: false,
		},
		{
			name:     "wrapped error",
			err:      Wrap(ErrCodeSubprocessFailure, New(ErrCodeInvalidInput, "inner"), "outer"),
			code:     ErrCodeSubprocessFailure,
			expected: true,
		},
		{
			name:     "non-Error type",
			err:      errors.New("plain error"),
			code:     ErrCodeInvalidInput,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			code:     ErrCodeInvalidInput,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Code
	}{
		{
			name:     "Error type",
			err:      New(ErrCodeMissingBuildScript, "test"),
			expected: ErrCodeMissingBuildScript,
		},
		{
			name:     "plain error",
			err:      errors.New("plain"),
			expected: "",
		},
		{
			name:     "nil",
			err:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "Error type",
			err:      New(ErrCodeInvalidInput, "friendly message"),
			expected: "friendly message",
		},
		{
			name:     "plain error",
			err:      errors.New("plain error"),
			expected: "plain error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.expected {
				t.Errorf("UserMessage() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExitError(t *testing.T) {
	t.Run("with output", func(t *testing.T) {
		err := &ExitError{ExitCode: 1, Output: "SyntaxError: bad\n", Attempts: 2}
		expected := "exit status 1 after 2 attempt(s):\nSyntaxError: bad"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("without output", func(t *testing.T) {
		err := &ExitError{ExitCode: 2, Attempts: 1}
		expected := "exit status 2 after 1 attempt(s)"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("found through wrap", func(t *testing.T) {
		cause := &ExitError{ExitCode: 3, Output: "boom", Attempts: 2}
		err := Wrap(ErrCodeSubprocessFailure, cause, "build script failed in %s", "/tmp/x")
		got, ok := AsExitError(err)
		if !ok {
			t.Fatal("AsExitError() = false, want true")
		}
		if got.ExitCode != 3 || got.Output != "boom" {
			t.Errorf("AsExitError() = %+v, want exit 3 with output", got)
		}
		if !strings.Contains(err.Error(), "boom") {
			t.Errorf("Error() = %q, should contain captured output", err.Error())
		}
	})

	t.Run("absent", func(t *testing.T) {
		if _, ok := AsExitError(New(ErrCodeInternal, "x")); ok {
			t.Error("AsExitError() = true for error without exit cause")
		}
	})
}
