package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAIError(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := PersistenceFailed("failed to insert message", cause).WithContext("thread_id", "t1")

	assert.Equal(t, "[PERSISTENCE_FAILED] failed to insert message: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "t1", err.Context["thread_id"])
	assert.Equal(t, "[NOT_FOUND] thread not found: abc", NotFound("thread", "abc").Error())
}

func TestGetCodeFromError(t *testing.T) {
	wrapped := fmt.Errorf("ask: %w", Conflict("duplicate request"))

	assert.Equal(t, ErrCodeConflict, GetCodeFromError(wrapped, ErrCodeInternal))
	assert.True(t, IsCode(wrapped, ErrCodeConflict))
	assert.False(t, IsCode(wrapped, ErrCodeNotFound))
	assert.Equal(t, ErrCodeInternal, GetCodeFromError(stderrors.New("plain"), ErrCodeInternal))
	assert.False(t, IsCode(nil, ErrCodeInternal))
}

func TestHTTPStatus(t *testing.T) {
	tests := map[ErrorCode]int{
		ErrCodeInvalidArgument:   http.StatusBadRequest,
		ErrCodeUnauthorized:      http.StatusUnauthorized,
		ErrCodeNotFound:          http.StatusNotFound,
		ErrCodeConflict:          http.StatusConflict,
		ErrCodeRateLimitExceeded: http.StatusTooManyRequests,
		ErrCodeEmbeddingFailed:   http.StatusBadGateway,
		ErrCodeGenerationFailed:  http.StatusBadGateway,
		ErrCodePersistenceFailed: http.StatusInternalServerError,
		ErrCodeTimeout:           http.StatusGatewayTimeout,
		ErrCodeInternal:          http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}
