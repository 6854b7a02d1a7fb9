// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/verisit/verisit/internal/domain/fault"
	"github.com/verisit/verisit/internal/log"
)

// errorBody is the uniform error envelope of the API.
type errorBody struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a service error onto the HTTP surface. Internal
// errors are logged with their cause and surfaced opaquely.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := fault.CodeOf(err)
	status := statusFor(code)

	body := errorBody{
		Error:     string(code),
		Message:   "internal server error",
		RequestID: log.RequestIDFromContext(r.Context()),
	}
	if f, ok := fault.As(err); ok && code != fault.CodeInternal {
		body.Message = f.Message
		body.Details = f.Details
	}

	if status >= 500 {
		l := log.WithComponentFromContext(r.Context(), "api")
		l.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
	}

	writeJSON(w, status, body)
}

// writeBadRequest is the shortcut for malformed JSON bodies.
func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, fault.New(fault.CodeBadRequest, "%s", message))
}

func statusFor(code fault.Code) int {
	switch code {
	case fault.CodeBadRequest:
		return http.StatusBadRequest
	case fault.CodeUnauthorized:
		return http.StatusUnauthorized
	case fault.CodeDeviceMismatch:
		return http.StatusForbidden
	case fault.CodeNotFound:
		return http.StatusNotFound
	case fault.CodeInvalidState, fault.CodeIdempotencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
