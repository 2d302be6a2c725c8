package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hanibi/hanibi-core/internal/audit"
	"github.com/hanibi/hanibi-core/internal/camera"
	"github.com/hanibi/hanibi-core/internal/device"
	"github.com/hanibi/hanibi-core/internal/session"
	"github.com/hanibi/hanibi-core/internal/telemetry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeConflict   = "conflict"
	ErrCodeInternal   = "internal_error"
	ErrCodeValidation = "validation_error"
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

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a pipeline error onto the HTTP surface:
// validation failures name the offending field with a 400, unknown
// resources yield 404, write contention yields 409, everything else a
// 500 that hides internals.
func writeDomainError(w http.ResponseWriter, err error) {
	var validation *telemetry.ValidationError
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, Error{
			Status:  http.StatusBadRequest,
			Code:    ErrCodeValidation,
			Message: validation.Error(),
			Field:   validation.Field,
		})

	case errors.Is(err, device.ErrInvalidDeviceID):
		writeBadRequest(w, err.Error())

	case errors.Is(err, session.ErrInvalidEventType):
		writeBadRequest(w, err.Error())

	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, telemetry.ErrReadingNotFound),
		errors.Is(err, camera.ErrSnapshotNotFound),
		errors.Is(err, camera.ErrNoPendingSnapshot):
		writeNotFound(w, err.Error())

	case errors.Is(err, device.ErrVersionConflict),
		errors.Is(err, session.ErrActiveSessionExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())

	default:
		writeInternalError(w, "internal server error")
	}
}

// statusForError mirrors writeDomainError's mapping for request-log
// classification.
func statusForError(err error) string {
	var validation *telemetry.ValidationError
	if errors.As(err, &validation) ||
		errors.Is(err, device.ErrInvalidDeviceID) ||
		errors.Is(err, session.ErrInvalidEventType) {
		return audit.StatusValidationFailed
	}
	return audit.StatusError
}
