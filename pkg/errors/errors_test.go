package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetAppError_FindsWrappedAppError(t *testing.T) {
	err := fmt.Errorf("relay: %w", MessageNotFoundError())

	appErr := GetAppError(err)

	assert.Equal(t, ErrCodeMessageNotFound, appErr.Code)
	assert.Equal(t, http.StatusNotFound, appErr.StatusCode)
	assert.True(t, HasCode(err, ErrCodeMessageNotFound))
}

func TestGetAppError_HidesUnknownErrors(t *testing.T) {
	cause := stderrors.New("connection refused")

	appErr := GetAppError(cause)

	assert.Equal(t, ErrCodeInternal, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)
	assert.Equal(t, "Something went wrong", appErr.Message)
	assert.ErrorIs(t, appErr, cause)
}

func TestServiceUnavailableError_KeepsCause(t *testing.T) {
	cause := stderrors.New("cassandra down")

	err := ServiceUnavailableError(cause)

	assert.Equal(t, http.StatusServiceUnavailable, err.StatusCode)
	assert.ErrorIs(t, err, cause)
	assert.NotContains(t, err.Message, "cassandra")
}

func TestWithDetails(t *testing.T) {
	err := UserUnavailableError("offline")

	assert.Equal(t, ErrCodeUserUnavailable, err.Code)
	assert.Equal(t, "offline", err.Details)
}
