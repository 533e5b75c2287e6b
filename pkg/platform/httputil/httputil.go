// Package httputil holds JSON response helpers shared by HTTP handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded error (or a bare store sentinel) to a status and writes
// {"error": code, "error_description": msg}. Internal errors omit the
// description so store details never leak.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	msg := ""
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		code = de.Code
		msg = de.Message
	case errors.Is(err, sentinel.ErrNotFound):
		code, msg = dErrors.CodeNotFound, "not found"
	case errors.Is(err, sentinel.ErrUnavailable):
		code, msg = dErrors.CodeUnavailable, "temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		code, msg = dErrors.CodeTimeout, "request timed out"
	}

	status := StatusFor(code)
	body := map[string]string{"error": string(code)}
	if status != http.StatusInternalServerError && msg != "" {
		body["error_description"] = msg
	}
	WriteJSON(w, status, body)
}

// DecodeJSON decodes a bounded JSON request body into T. Unknown fields are
// rejected. On failure it writes a 400 and returns false.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, maxBytes int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid json request body"))
		return v, false
	}
	return v, true
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
		return http.StatusConflict
	case dErrors.CodeUnavailable, dErrors.CodeRetrieval:
		return http.StatusServiceUnavailable
	case dErrors.CodeCalibration:
		return http.StatusUnprocessableEntity
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
