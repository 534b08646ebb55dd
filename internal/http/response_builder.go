// Package http exposes the ledger commands as a JSON API.
//
// This file holds the response side: JSON bodies and the mapping from the
// core error taxonomy to status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"conti/internal/backup"
	"conti/internal/core"
	"conti/internal/log"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// writeJSON writes v with the given status. A nil v writes no body.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	if v == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "failed to write response body", log.FieldError, err)
	}
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var maxBytesErr *http.MaxBytesError
	switch {
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest), errors.Is(err, backup.ErrMalformed),
		errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError logs err at the level its class deserves and writes it as an
// ErrorResponse. Internal failures are not echoed to the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	errType := log.ErrorType(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
			log.FieldError, err, log.FieldErrorType, errType)
		message = http.StatusText(status)
	} else if status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge {
		errType = "bad_request"
	}
	writeJSON(w, r, status, ErrorResponse{Error: message, Type: errType})
}
