package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfilerError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProfilerError
		expected string
	}{
		{
			name: "error without cause",
			err: &ProfilerError{
				Code:    CodeInvalidRequest,
				Message: "query text is empty",
			},
			expected: "INVALID_REQUEST: query text is empty",
		},
		{
			name: "error with cause",
			err: &ProfilerError{
				Code:    CodePersistenceFailed,
				Message: "append failed",
				Cause:   fmt.Errorf("disk full"),
			},
			expected: "PERSISTENCE_FAILED: append failed (caused by: disk full)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestProfilerError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(cause, CodeQueryFailed, "explain failed")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, &ProfilerError{Code: CodeQueryFailed}))
	assert.True(t, errors.Is(err, cause))
}

func TestProfilerError_Is(t *testing.T) {
	err1 := &ProfilerError{Code: CodeNotFound, Message: "not found"}
	err2 := &ProfilerError{Code: CodeNotFound, Message: "different message"}
	err3 := &ProfilerError{Code: CodeInvalidRequest, Message: "invalid"}

	assert.True(t, err1.Is(err2))
	assert.False(t, err1.Is(err3))
	assert.False(t, err1.Is(fmt.Errorf("standard error")))
	assert.True(t, errors.Is(Wrapf(err1, CodeNotFound, "record %d", 4), ErrRecordNotFound))
}

func TestProfilerError_WithDetail(t *testing.T) {
	err := New(CodeNotFound, "query record not found").WithDetail("query_id", int64(7))
	assert.Equal(t, int64(7), err.Details["query_id"])
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "nothing"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "nothing %d", 1))
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		code          string
		notFound      bool
		invalid       bool
		persistence   bool
		expectMessage string
	}{
		{
			name:          "not found",
			err:           ErrRecordNotFound,
			code:          CodeNotFound,
			notFound:      true,
			expectMessage: "query record not found",
		},
		{
			name:          "wrapped invalid",
			err:           fmt.Errorf("outer: %w", ErrEmptyQuery),
			code:          CodeInvalidRequest,
			invalid:       true,
			expectMessage: "query text is empty",
		},
		{
			name:          "persistence",
			err:           Wrap(fmt.Errorf("io"), CodePersistenceFailed, "insert failed"),
			code:          CodePersistenceFailed,
			persistence:   true,
			expectMessage: "insert failed",
		},
		{
			name:          "plain error",
			err:           fmt.Errorf("boom"),
			code:          CodeInternal,
			expectMessage: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetCode(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.invalid, IsInvalidRequest(tt.err))
			assert.Equal(t, tt.persistence, IsPersistence(tt.err))
			assert.Equal(t, tt.expectMessage, GetMessage(tt.err))
		})
	}
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(nil))
	assert.Equal(t, CodeCanceled, GetCode(FromContext(context.Canceled)))
	assert.Equal(t, CodeDeadlineExceeded, GetCode(FromContext(fmt.Errorf("exec: %w", context.DeadlineExceeded))))

	other := fmt.Errorf("syntax error")
	assert.Equal(t, other, FromContext(other))
}

func TestRootCause(t *testing.T) {
	driverErr := fmt.Errorf("Parser Error: syntax error at or near \"SELEC\"")
	wrapped := Wrap(Wrap(driverErr, CodeQueryFailed, "explain analyze failed"), CodeInternal, "outer")

	assert.Equal(t, driverErr, RootCause(wrapped))
	assert.Equal(t, driverErr, RootCause(driverErr))
	assert.Equal(t, ErrEmptyQuery, RootCause(ErrEmptyQuery))
}
