package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/auctionhouse/internal/cache/redis"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// EventReader pages through the retained auction event stream.
type EventReader interface {
	Read(ctx context.Context, afterID string, count int) ([]redis.StreamedEvent, error)
}

// AdminHandler serves operator views: the event stream and the audit log.
type AdminHandler struct {
	events EventReader
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler. Either source may be nil, in
// which case its endpoint answers 404.
func NewAdminHandler(events EventReader, audit domain.AuditStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{events: events, audit: audit, logger: logHandler(logger, "admin")}
}

// Events returns events after the given stream id. Clients poll with the
// "next" value of the previous page.
// GET /api/events?after=&limit=
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "event stream disabled", "NoEntityFound")
		return
	}
	after := r.URL.Query().Get("after")
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}

	page, err := h.events.Read(r.Context(), after, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	next := after
	if len(page) > 0 {
		next = page[len(page)-1].StreamID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": nonNil(page), "next": next})
}

// Audit returns audit log entries, newest first.
// GET /api/audit?limit=&offset=&since=
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log disabled", "NoEntityFound")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": nonNil(entries)})
}
