package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
)

// Envelope is the body of every JSON response:
// {success, data} on success, {success:false, error, code, details} on failure.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// EnvelopeTransformer wraps huma response bodies in an Envelope.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	if _, already := v.(*Envelope); already {
		return v, nil
	}

	var apiErr *APIError
	if err, isErr := v.(error); isErr {
		if errors.As(err, &apiErr) {
			return &Envelope{Error: apiErr.Message, Code: apiErr.Code, Details: apiErr.Details}, nil
		}
		code, _ := strconv.Atoi(status)
		return &Envelope{Error: err.Error(), Code: statusToCode(code)}, nil
	}

	return &Envelope{Success: true, Data: v}, nil
}

// writeError renders err as a failure Envelope on routes that bypass huma.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	var body *Envelope
	statusErr := newAPIError(status, message, err)
	if apiErr, ok := statusErr.(*APIError); ok {
		body = &Envelope{Error: apiErr.Message, Code: apiErr.Code, Details: apiErr.Details}
	} else {
		body = &Envelope{Error: statusErr.Error(), Code: statusToCode(statusErr.GetStatus())}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusErr.GetStatus())
	_ = json.NewEncoder(w).Encode(body)
}
