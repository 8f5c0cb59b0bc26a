package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v2"
)

// Error kinds reported in the "type" field of error responses.
const (
	ErrInvalidInput = "invalid_input"
	ErrUnauthorized = "unauthorized"
	ErrProvider     = "provider_error"
	ErrTimeout      = "timeout"
	ErrInternal     = "internal"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// writeError sends a JSON error response in the standard envelope.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Type: kind, Message: message}})
}

// writeProviderError maps an upstream completion failure to a response,
// preserving the provider's error kind: rate limits stay 429, timeouts
// become 504, everything else is a 502.
func writeProviderError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, ErrTimeout, "provider request timed out")
		return
	}

	status := http.StatusBadGateway
	var oaiErr *openai.Error
	var antErr *anthropic.Error
	switch {
	case errors.As(err, &oaiErr):
		if oaiErr.StatusCode == http.StatusTooManyRequests {
			status = http.StatusTooManyRequests
		}
	case errors.As(err, &antErr):
		if antErr.StatusCode == http.StatusTooManyRequests {
			status = http.StatusTooManyRequests
		}
	}
	writeError(w, status, ErrProvider, err.Error())
}
