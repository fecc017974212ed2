package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// classify maps a booking error onto a status and a stable error code.
// InconsistentState is checked first because it wraps the store failure
// that caused it.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, appointment.ErrInconsistentState):
		return http.StatusInternalServerError, "inconsistent_state"
	case errors.Is(err, appointment.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, appointment.ErrUnauthorized),
		errors.Is(err, auth.ErrTokenMissing),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, appointment.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, appointment.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, appointment.ErrSlotUnavailable):
		return http.StatusConflict, "slot_unavailable"
	case errors.Is(err, appointment.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, appointment.ErrAlreadyRated):
		return http.StatusConflict, "already_rated"
	case errors.Is(err, appointment.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes err as JSON. Server-side failures are logged and their
// details withheld from the caller.
func respondError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status, code := classify(err)

	details := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err))
		details = ""
		if status == http.StatusServiceUnavailable {
			details = "storage is unavailable, retry later"
		}
		var inc *appointment.InconsistencyError
		if errors.As(err, &inc) {
			details = "the slot was claimed but the appointment could not be recorded"
		}
	}

	writeError(w, status, code, details)
}
