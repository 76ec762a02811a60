// Package errors provides the coded error type shared by the analysis engine.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Error codes. Codes are stable strings so they survive serialization
// across the Flight boundary and into logs.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeQueryFailed       = "QUERY_FAILED"
	CodeExtractionFailed  = "EXTRACTION_FAILED"
	CodePersistenceFailed = "PERSISTENCE_FAILED"
	CodeRenderFailed      = "RENDER_FAILED"
	CodeSummarizerFailed  = "SUMMARIZER_FAILED"
	CodeInternal          = "INTERNAL_ERROR"
	CodeUnavailable       = "UNAVAILABLE"
	CodeDeadlineExceeded  = "DEADLINE_EXCEEDED"
	CodeCanceled          = "CANCELED"
	CodeUnauthorized      = "UNAUTHORIZED"
)

// ProfilerError is an error with a code, a message and optional details.
type ProfilerError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *ProfilerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProfilerError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ProfilerError with the same code.
func (e *ProfilerError) Is(target error) bool {
	t, ok := target.(*ProfilerError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a single detail to the error.
func (e *ProfilerError) WithDetail(key string, value interface{}) *ProfilerError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common errors
var (
	ErrEmptyQuery     = &ProfilerError{Code: CodeInvalidRequest, Message: "query text is empty"}
	ErrRecordNotFound = &ProfilerError{Code: CodeNotFound, Message: "query record not found"}
	ErrNoArtifact     = &ProfilerError{Code: CodeNotFound, Message: "visualization artifact not found"}
	ErrNoSummarizer   = &ProfilerError{Code: CodeSummarizerFailed, Message: "no summarizer configured"}
)

// New creates a new ProfilerError with the given code and message.
func New(code, message string) *ProfilerError {
	return &ProfilerError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with a ProfilerError.
func Wrap(err error, code, message string) *ProfilerError {
	if err == nil {
		return nil
	}
	return &ProfilerError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *ProfilerError {
	if err == nil {
		return nil
	}
	return &ProfilerError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsInvalidRequest checks if an error is an invalid request error.
func IsInvalidRequest(err error) bool {
	return hasCode(err, CodeInvalidRequest)
}

// IsPersistence checks if an error came from the analysis log write path.
func IsPersistence(err error) bool {
	return hasCode(err, CodePersistenceFailed)
}

func hasCode(err error, code string) bool {
	var pErr *ProfilerError
	if errors.As(err, &pErr) {
		return pErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var pErr *ProfilerError
	if errors.As(err, &pErr) {
		return pErr.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error.
func GetMessage(err error) string {
	var pErr *ProfilerError
	if errors.As(err, &pErr) {
		return pErr.Message
	}
	return err.Error()
}

// FromContext maps a context error to the matching coded error.
// Other errors are returned unchanged.
func FromContext(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return Wrap(err, CodeCanceled, "analysis cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, CodeDeadlineExceeded, "analysis deadline exceeded")
	}
	return err
}

// RootCause strips ProfilerError wrappers and returns the underlying error.
func RootCause(err error) error {
	for {
		pErr, ok := err.(*ProfilerError)
		if !ok || pErr.Cause == nil {
			return err
		}
		err = pErr.Cause
	}
}
