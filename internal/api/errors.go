package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mastalir1980/ha-2N-intercom/internal/engine"
	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeUnavailable  = "device_unavailable"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDeviceError maps errors from a direct device call (snapshot,
// system info proxy) to HTTP responses.
func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intercom.ErrAuth):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device credentials rejected")
	case errors.Is(err, intercom.ErrConnection):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device unreachable")
	default:
		writeInternalError(w, "device request failed")
	}
}

// writeEngineError maps actuation and lookup errors from the engine to
// HTTP responses. Busy relays are a conflict, not a failure; unavailable
// and reauth-required devices are service-level conditions the client
// should retry or escalate, not 4xx mistakes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownDevice), errors.Is(err, engine.ErrUnknownRelay):
		writeNotFound(w, err.Error())
	case errors.Is(err, engine.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	case errors.Is(err, engine.ErrBusy):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, engine.ErrUnavailable), errors.Is(err, engine.ErrReauthRequired),
		errors.Is(err, engine.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
