package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"redtrace/core"
	"redtrace/service"

	googleuuid "github.com/google/uuid"
	"go.uber.org/zap"
)

// writeError writes an error response to the client and logs it
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message, "error", err.Error(), "status_code", statusCode)
		} else {
			logger.Errorw(message, "status_code", statusCode)
		}
	}

	if len(message) > core.MaxErrorMessageLength {
		message = message[:core.MaxErrorMessageLength-3] + "..."
	}
	http.Error(w, message, statusCode)
}

// writeServiceError maps a classified service error to an HTTP status.
// Internal causes are logged but never leaked to the client.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch service.KindOf(err) {
	case service.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error(), nil, a.logger)
	case service.KindForbidden:
		writeError(w, http.StatusForbidden, err.Error(), nil, a.logger)
	case service.KindBadRequest:
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
	default:
		var se *service.Error
		cause := err
		if errors.As(err, &se) && se.Unwrap() != nil {
			cause = se.Unwrap()
		}
		writeError(w, http.StatusInternalServerError, "Internal server error", cause, a.logger)
	}
}

// respondJSON writes a JSON response
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// validateUUID validates that a string is a well-formed UUID
func validateUUID(id string) error {
	if _, err := googleuuid.Parse(id); err != nil {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	return nil
}
