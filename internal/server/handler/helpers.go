// Package handler implements the REST endpoints. Errors use the same
// {"error", "type"} shape as the realtime channels.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
)

const (
	typeInternal   = "InternalError"
	maxRequestBody = 1 << 16
)

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","type":"InternalError"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, ws.ErrorFrame{Error: msg, Type: typ})
}

// writeServiceError maps a service or ledger error onto a status and frame.
// Anything unrecognised is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if frame, ok := ws.RejectFrame(err); ok {
		writeJSON(w, rejectStatus(frame.Type), frame)
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "Item not found.", ws.TypeNoEntity)
	case errors.Is(err, domain.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, err.Error(), ws.TypeValidation)
	case errors.Is(err, domain.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "Permission denied", ws.TypePermissionDenied)
	default:
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", typeInternal)
	}
}

func rejectStatus(typ string) int {
	switch typ {
	case ws.TypeNoEntity:
		return http.StatusNotFound
	case ws.TypeTimeExceed:
		return http.StatusConflict
	case ws.TypePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// decodeBody reads a JSON request body of at most maxRequestBody bytes.
// Unknown fields are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseListOpts extracts pagination from the query string.
// Defaults: limit=50 (max 500), offset=0. since/until are RFC 3339.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

// pathID parses the {id} path value. On failure it writes a 404 in the
// NoEntityFound shape and returns false.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "Item not found.", ws.TypeNoEntity)
		return 0, false
	}
	return id, true
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
