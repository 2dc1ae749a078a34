package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"bizcal/internal/apperr"
	"bizcal/internal/calendar"
	"bizcal/internal/depgraph"
	appLog "bizcal/internal/log"
	"bizcal/internal/schedule"
	"bizcal/internal/store"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResponse{Error: msg})
}

// writeErr maps service errors onto status codes. Unknown errors are
// logged and reported as 500 without leaking details.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, depgraph.ErrTaskNotFound),
		errors.Is(err, schedule.ErrSeriesNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidInput),
		errors.Is(err, schedule.ErrInvalidScope):
		return http.StatusBadRequest
	case errors.Is(err, schedule.ErrNotSeriesLinked),
		errors.Is(err, store.ErrVirtualTask):
		return http.StatusConflict
	case errors.Is(err, calendar.ErrNotReschedulable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}
