package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := Conflictf("category %s has tags", "cat-1")

	assert.True(t, Is(err, ErrConflict))
	assert.False(t, Is(err, ErrNotFound))
	assert.Equal(t, "category cat-1 has tags", err.Error())
}

func TestError_IsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("backfill: %w", Configuration("no default category"))

	assert.True(t, Is(err, ErrConfiguration))

	var domainErr *Error
	require.True(t, As(err, &domainErr))
	assert.Equal(t, CodeConfiguration, domainErr.Code)
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := New("disk full")
	err := Wrap(cause, CodeInternal, "commit batch")

	assert.Equal(t, "commit batch: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeValidation, http.StatusBadRequest},
		{CodeConflict, http.StatusConflict},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeConfiguration, http.StatusInternalServerError},
		{CodePartialFailure, http.StatusMultiStatus},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestError_WithDetailsKeepsCode(t *testing.T) {
	err := ValidationWithDetails("validation failed", map[string]string{"name": "is required"})
	withMore := err.WithDetails(map[string]string{"color": "is invalid"})

	assert.Equal(t, CodeValidation, withMore.Code)
	assert.Equal(t, map[string]string{"color": "is invalid"}, withMore.Details)
}

func TestNewf_FormatsMessage(t *testing.T) {
	assert.Equal(t, "ids must not be empty", Validationf("ids must not be empty").Message)
	assert.Equal(t, "image img-1 not found", NotFoundf("image %s not found", "img-1").Message)
	assert.True(t, Is(NotFoundf("x"), ErrNotFound))
}
