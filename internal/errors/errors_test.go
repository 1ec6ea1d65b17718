package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/pscheid92/picorelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("text must be a non-empty string")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Equal(t, "validation: text must be a non-empty string", err.Error())
}

func TestPublishError(t *testing.T) {
	cause := fmt.Errorf("broker unreachable")
	err := PublishError("display", cause)

	assert.Equal(t, TypePublish, err.Type)
	assert.Equal(t, "display", err.Context["topic"])
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.Equal(t, "broker unreachable", err.Detail())
	assert.ErrorIs(t, err, cause)
}

func TestProcessError(t *testing.T) {
	cause := fmt.Errorf("capture exited with status 1")
	err := ProcessError("capture", cause)

	assert.Equal(t, TypeProcess, err.Type)
	assert.Equal(t, "capture failed", err.Message)
	assert.Equal(t, "capture", err.Context["worker"])
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.Contains(t, err.Error(), "exited with status 1")
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Equal(t, TypeInternal, err.Type)
	assert.NotContains(t, err.Error(), "<nil>")
	assert.Equal(t, "something went wrong", err.Detail())
}

func TestHTTPStatusAllTypes(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    int
	}{
		{TypeValidation, http.StatusBadRequest},
		{TypeNotFound, http.StatusNotFound},
		{TypePublish, http.StatusInternalServerError},
		{TypeProcess, http.StatusInternalServerError},
		{TypeInternal, http.StatusInternalServerError},
		{ErrorType("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := &Error{Type: tt.errType}
			assert.Equal(t, tt.want, err.HTTPStatus())
		})
	}
}

func TestWithContextNilMap(t *testing.T) {
	err := &Error{Type: TypeValidation, Message: "test"}

	err = err.WithContext("key", "value")

	assert.Equal(t, "value", err.Context["key"])
}

func TestToResponse(t *testing.T) {
	resp := ProcessError("analysis", errors.New("exit status 2: no image")).ToResponse()

	assert.False(t, resp.Success)
	assert.Equal(t, "exit status 2: no image", resp.Error)
	assert.Equal(t, TypeProcess, resp.Type)
	assert.Equal(t, "analysis", resp.Context["worker"])
}

func TestAsStructuredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ErrorType
	}{
		{"structured passes through", ValidationError("x"), TypeValidation},
		{"wrapped structured", fmt.Errorf("ctx: %w", ProcessError("capture", nil)), TypeProcess},
		{"empty text", domain.ErrEmptyText, TypeValidation},
		{"empty prompt", fmt.Errorf("analyze: %w", domain.ErrEmptyPrompt), TypeValidation},
		{"unknown command", domain.ErrUnknownCommand, TypeValidation},
		{"not connected", domain.ErrNotConnected, TypePublish},
		{"anything else", errors.New("boom"), TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsStructuredError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
		})
	}
}

func TestAsStructuredErrorWithNil(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))
}

func TestAsStructuredErrorValidationMessage(t *testing.T) {
	got := AsStructuredError(domain.ErrEmptyText)
	assert.Equal(t, "text must be a non-empty string", got.ToResponse().Error)
}
