package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kalambet/vidsum/internal/apperr"
)

const maxRequestBodySize = 1 << 20 // 1MB

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// httpError writes the {"error": msg} envelope.
func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps err through the error taxonomy. Upstream bodies and internal
// details stay in the log.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	var msg string
	switch {
	case errors.Is(err, apperr.ErrBadRequest):
		msg = err.Error()
	case err == apperr.ErrNoActiveSession:
		msg = "no active session: load a video first"
	case errors.Is(err, apperr.ErrNoActiveSession):
		msg = err.Error()
	case errors.Is(err, apperr.ErrUpstreamTimeout):
		msg = "Request timed out"
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		msg = "Failed to fetch data from API"
	case errors.Is(err, apperr.ErrUpstreamFormat):
		msg = "unexpected response from upstream"
	default:
		msg = "internal error"
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout && status != http.StatusBadGateway {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	httpError(w, status, msg)
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
