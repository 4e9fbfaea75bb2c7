// Package handler implements the HTTP endpoints of the wager API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/spacewager/internal/crypto"
	"github.com/alanyoungcy/spacewager/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyFunds),
		errors.Is(err, domain.ErrMultipleDenoms),
		errors.Is(err, domain.ErrWrongDenom),
		errors.Is(err, domain.ErrInvalidPlayer):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPredictionStillInProgress),
		errors.Is(err, domain.ErrRoundClosed),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrAlreadyInstantiated):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusLocked
	case errors.Is(err, domain.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, crypto.ErrBadSignature),
		errors.Is(err, crypto.ErrStaleRequest),
		errors.Is(err, crypto.ErrReplayedRequest):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes it with its mapped status. Internal
// errors are not echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, status, op+" failed")
		return
	}
	logger.DebugContext(r.Context(), "handler: "+op+" rejected", slog.String("error", err.Error()))
	writeError(w, status, err.Error())
}

// decodeBody decodes a size-bounded JSON body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// pageParams reads start_after and limit from the query string. Absent or
// malformed values leave the defaults in place.
func pageParams(r *http.Request) (*uint64, int) {
	q := r.URL.Query()
	var startAfter *uint64
	if v := q.Get("start_after"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			startAfter = &n
		}
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return startAfter, limit
}

// roundParam parses the {name} path value as a round id.
func roundParam(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(r.PathValue(name), 10, 64)
}
