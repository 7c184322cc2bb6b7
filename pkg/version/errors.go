package version

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code
type Code string

const (
	CodeInvalidInput        Code = "VERSION_INVALID_INPUT"
	CodeSourceTimeout       Code = "VERSION_SOURCE_TIMEOUT"
	CodeSourceUnavailable   Code = "VERSION_SOURCE_UNAVAILABLE"
	CodeNoValidSourceResult Code = "VERSION_NO_VALID_SOURCE_RESULT"
	CodeUpdateConflict      Code = "VERSION_UPDATE_CONFLICT"
	CodeStepFailed          Code = "VERSION_STEP_FAILED"
	CodeRollbackFailed      Code = "VERSION_ROLLBACK_FAILED"
	CodeParse               Code = "VERSION_PARSE"
)

// UserMessage returns the operator-facing summary for the code
func (c Code) UserMessage() string {
	switch c {
	case CodeInvalidInput:
		return "invalid input, check the configuration"
	case CodeSourceTimeout:
		return "version check timed out, retry later"
	case CodeSourceUnavailable:
		return "version source unavailable, check network connectivity"
	case CodeNoValidSourceResult:
		return "every version source failed, check the configuration"
	case CodeUpdateConflict:
		return "this image is already being updated, retry later"
	case CodeStepFailed:
		return "update step failed"
	case CodeRollbackFailed:
		return "rollback failed, manual recovery required"
	case CodeParse:
		return "version source returned data that could not be parsed"
	default:
		return "unknown error"
	}
}

// Error is the single error type returned by checks and updates.
// Step is only set for CodeStepFailed.
type Error struct {
	Code    Code
	Step    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code == CodeStepFailed && e.Step != "" {
		return fmt.Sprintf("step failed: %s - %s", e.Step, e.Message)
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage combines the code summary with the detailed message
func (e *Error) UserMessage() string {
	return fmt.Sprintf("%s: %s", e.Code.UserMessage(), e.Error())
}

// Is matches any *Error carrying the same code, so errors.Is(err, ErrNoValidSourceResult) works
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Step == ""
}

// Sentinels usable with errors.Is
var (
	ErrInvalidInput        = &Error{Code: CodeInvalidInput}
	ErrSourceTimeout       = &Error{Code: CodeSourceTimeout}
	ErrSourceUnavailable   = &Error{Code: CodeSourceUnavailable}
	ErrNoValidSourceResult = &Error{Code: CodeNoValidSourceResult}
	ErrUpdateConflict      = &Error{Code: CodeUpdateConflict}
	ErrStepFailed          = &Error{Code: CodeStepFailed}
	ErrRollbackFailed      = &Error{Code: CodeRollbackFailed}
	ErrParse               = &Error{Code: CodeParse}
)

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput builds a CodeInvalidInput error
func InvalidInput(format string, args ...interface{}) *Error {
	return newError(CodeInvalidInput, format, args...)
}

// SourceTimeout builds a CodeSourceTimeout error
func SourceTimeout(format string, args ...interface{}) *Error {
	return newError(CodeSourceTimeout, format, args...)
}

// SourceUnavailable builds a CodeSourceUnavailable error
func SourceUnavailable(format string, args ...interface{}) *Error {
	return newError(CodeSourceUnavailable, format, args...)
}

// NoValidSourceResult builds a CodeNoValidSourceResult error
func NoValidSourceResult() *Error {
	return &Error{Code: CodeNoValidSourceResult, Message: "no valid source result"}
}

// UpdateConflict builds a CodeUpdateConflict error naming the holding operation
func UpdateConflict(imageKey, holder string) *Error {
	return newError(CodeUpdateConflict, "image %s is being updated by operation %s", imageKey, holder)
}

// StepFailed builds a CodeStepFailed error for the named step
func StepFailed(step, message string) *Error {
	return &Error{Code: CodeStepFailed, Step: step, Message: message}
}

// RollbackFailed builds a CodeRollbackFailed error
func RollbackFailed(format string, args ...interface{}) *Error {
	return newError(CodeRollbackFailed, format, args...)
}

// Parse builds a CodeParse error
func Parse(format string, args ...interface{}) *Error {
	return newError(CodeParse, format, args...)
}

// CodeOf extracts the code of err, or "" when err is not a version error
func CodeOf(err error) Code {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.Code
	}
	return ""
}
