package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithDetailDoesNotMutateShared(t *testing.T) {
	detailed := ErrValidationFailed.WithDetail("cast must not be empty")

	assert.Equal(t, "cast must not be empty", detailed.Detail)
	assert.Empty(t, ErrValidationFailed.Detail)
	assert.Equal(t, http.StatusBadRequest, detailed.HTTPStatus)
}

func TestAsAppError(t *testing.T) {
	cause := stderrors.New("connection refused")
	wrapped := fmt.Errorf("publish job: %w", Wrap(cause, CodeQueueError, "enqueue failed"))

	appErr := AsAppError(wrapped)
	assert.Equal(t, CodeQueueError, appErr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, IsAppError(wrapped))

	plain := AsAppError(cause)
	assert.Equal(t, CodeUnknown, plain.Code)
	assert.Equal(t, http.StatusInternalServerError, plain.HTTPStatus)
	assert.False(t, IsAppError(cause))
}

func TestStatusMapping(t *testing.T) {
	cases := map[*AppError]int{
		ErrRunNotFound:      http.StatusNotFound,
		ErrRunNotFinished:   http.StatusConflict,
		ErrTooManyRequests:  http.StatusTooManyRequests,
		ErrStageFatal:       http.StatusUnprocessableEntity,
		ErrInvalidParam:     http.StatusBadRequest,
		ErrGenerationFailed: http.StatusInternalServerError,
	}
	for e, status := range cases {
		assert.Equal(t, status, e.HTTPStatus, string(e.Code))
	}
}
