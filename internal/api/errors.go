package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-irrigation/internal/advisor"
	"github.com/nerrad567/gray-logic-irrigation/internal/automation"
	"github.com/nerrad567/gray-logic-irrigation/internal/optimizer"
	"github.com/nerrad567/gray-logic-irrigation/internal/sensors"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnavailable    = "service_unavailable"
	ErrCodeGatewayTimeout = "gateway_timeout"
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
	w.Header().Set("WWW-Authenticate", `Bearer realm="irrigation"`)
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeUnavailable writes a 503 error response.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeDomainError maps package sentinels onto HTTP statuses. Anything
// unrecognised becomes a 500 carrying fallback rather than the raw error.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, automation.ErrRuleNotFound):
		writeNotFound(w, "automation not found")
	case errors.Is(err, sensors.ErrPlantNotFound):
		writeNotFound(w, "plant not found")
	case errors.Is(err, sensors.ErrNoReadings):
		writeNotFound(w, "no recent readings")
	case errors.Is(err, advisor.ErrNoMoisture):
		writeNotFound(w, "no soil moisture reading")
	case errors.Is(err, automation.ErrInvalidConfig),
		errors.Is(err, sensors.ErrInvalidPlant),
		errors.Is(err, optimizer.ErrUnsupportedAlgorithm):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, automation.ErrRuleExists), errors.Is(err, sensors.ErrPlantExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, automation.ErrNotRunning):
		writeError(w, http.StatusConflict, ErrCodeConflict, "automation is not running")
	case errors.Is(err, automation.ErrProviderTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeGatewayTimeout, err.Error())
	case errors.Is(err, automation.ErrProvider):
		writeUnavailable(w, err.Error())
	default:
		writeInternalError(w, fallback)
	}
}
