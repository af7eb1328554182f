package apierrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructionError_FormatsMessage(t *testing.T) {
	err := NewConstructionError("app_id is required, got %q", "")
	assert.Equal(t, `construction error: app_id is required, got ""`, err.Error())
}

func TestResponseError_FormatsFields(t *testing.T) {
	err := &ResponseError{Code: "InvalidToken", Message: "token invalid", MsgType: "authorize", ReqID: 7}
	assert.Contains(t, err.Error(), "InvalidToken")
	assert.Contains(t, err.Error(), "token invalid")
	assert.Contains(t, err.Error(), "authorize")
}

func TestAddedTaskError_Unwraps(t *testing.T) {
	inner := errors.New("panic: boom")
	wrapped := &AddedTaskError{Inner: inner, Name: "subscription-watch:abc"}

	assert.ErrorIs(t, wrapped, inner)
	assert.Contains(t, wrapped.Error(), "subscription-watch:abc")
}
