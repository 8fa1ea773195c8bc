package validation_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
	"github.com/promptshelf/promptshelf-server/internal/validation"
)

type promptInput struct {
	Text string `json:"text" validate:"notblank"`
}

type testRequest struct {
	Name    string        `json:"name" validate:"notblank,max=20"`
	Color   string        `json:"color,omitempty" validate:"omitempty,hexcolor"`
	URL     string        `json:"url" validate:"required,payload"`
	Width   int           `json:"width" validate:"gte=0"`
	Prompts []promptInput `json:"prompts" validate:"dive"`
}

func validRequest() testRequest {
	return testRequest{Name: "Sunset", URL: "https://cdn.example.com/a.png", Width: 10}
}

func TestValidator_ValidateSuccess(t *testing.T) {
	v := validation.New()
	assert.NoError(t, v.Validate(validRequest()))

	req := validRequest()
	req.URL = "data:image/png;base64,iVBORw0KGgo="
	req.Color = "#aabbcc"
	assert.NoError(t, v.Validate(req))
}

func TestValidator_ValidateErrors(t *testing.T) {
	v := validation.New()

	tests := []struct {
		name   string
		mutate func(*testRequest)
		field  string
	}{
		{"blank name", func(r *testRequest) { r.Name = "   " }, "name"},
		{"long name", func(r *testRequest) { r.Name = "a very long name indeed, too long" }, "name"},
		{"bad color", func(r *testRequest) { r.Color = "blue" }, "color"},
		{"bad payload", func(r *testRequest) { r.URL = "ftp://x/y.png" }, "url"},
		{"not base64 data uri", func(r *testRequest) { r.URL = "data:image/png,abc" }, "url"},
		{"negative width", func(r *testRequest) { r.Width = -1 }, "width"},
		{"blank prompt", func(r *testRequest) { r.Prompts = []promptInput{{Text: ""}} }, "prompts[0].text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := v.Validate(req)
			require.Error(t, err)
			assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

			var domainErr *domainerrors.Error
			require.True(t, domainerrors.As(err, &domainErr))
			assert.Equal(t, http.StatusBadRequest, domainErr.Code.HTTPStatus())

			details, ok := domainErr.Details.(map[string]string)
			require.True(t, ok)
			assert.Contains(t, details, tt.field)
		})
	}
}

func TestValidator_SingleFieldSummary(t *testing.T) {
	req := validRequest()
	req.Name = ""

	err := validation.New().Validate(req)
	require.Error(t, err)
	assert.Equal(t, "name is required", err.Error())
}

func TestIsPayloadRef(t *testing.T) {
	assert.True(t, validation.IsPayloadRef("/objects/images/a.jpg"))
	assert.True(t, validation.IsPayloadRef("http://example.com/a.jpg"))
	assert.False(t, validation.IsPayloadRef("//example.com/a.jpg"))
	assert.False(t, validation.IsPayloadRef(""))
	assert.False(t, validation.IsPayloadRef("example.com/a.jpg"))
}
