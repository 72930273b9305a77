package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"bakery-system/internal/domain"
	"bakery-system/internal/logger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps the error taxonomy onto HTTP statuses. State conflicts are
// ordinary losing-the-race outcomes and log at DEBUG; only unclassified
// errors log at ERROR.
func writeErr(w http.ResponseWriter, log *logger.Logger, action string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrStateConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrSuspended):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrExternalDependency):
		status = http.StatusBadGateway
	}
	switch status {
	case http.StatusConflict:
		log.Debug(action, map[string]any{"reason": err.Error()})
	case http.StatusInternalServerError:
		log.Error(action, err, nil)
	default:
		log.Debug(action, map[string]any{"reason": err.Error(), "status": status})
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrValidation
	}
	return nil
}
