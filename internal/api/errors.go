package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-cast/internal/cast"
	"github.com/nerrad567/gray-logic-cast/internal/device"
	"github.com/nerrad567/gray-logic-cast/internal/search"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeUnauthorized     = "unauthorised"
	ErrCodeForbidden        = "forbidden"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeUnknownDevice    = "unknown_device"
	ErrCodeUnsupported      = "unsupported_command"
	ErrCodeNoActiveSession  = "no_active_session"
	ErrCodeInvalidURL       = "invalid_url"
	ErrCodeSuperseded       = "superseded"
	ErrCodeConnectionFailed = "connection_failed"
	ErrCodeTimeout          = "timeout"
	ErrCodeUnavailable      = "unavailable"
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

// errorStatus maps a domain error onto an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, cast.ErrInvalidParameters), errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, device.ErrInvalidID), errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidClass):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, device.ErrDeviceExists):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, cast.ErrUnknownDevice), errors.Is(err, device.ErrDeviceNotFound):
		return http.StatusNotFound, ErrCodeUnknownDevice
	case errors.Is(err, cast.ErrUnsupportedCommand):
		return http.StatusUnprocessableEntity, ErrCodeUnsupported
	case errors.Is(err, cast.ErrInvalidURL):
		return http.StatusUnprocessableEntity, ErrCodeInvalidURL
	case errors.Is(err, cast.ErrNoActiveSession):
		return http.StatusConflict, ErrCodeNoActiveSession
	case errors.Is(err, cast.ErrDebounced):
		return http.StatusConflict, ErrCodeSuperseded
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, cast.ErrConnectionFailed), errors.Is(err, search.ErrUpstream):
		return http.StatusBadGateway, ErrCodeConnectionFailed
	case errors.Is(err, search.ErrDisabled), errors.Is(err, cast.ErrClosed),
		errors.Is(err, cast.ErrPrefsUnavailable):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeDomainError writes err with the status errorStatus assigns it.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	writeError(w, status, code, message)
}
