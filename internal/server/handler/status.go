package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
)

// DropCounter reports how many notifications were dropped.
type DropCounter interface {
	Dropped() int64
}

// StatusHandler serves the process status for operators: mode, uptime,
// realtime channel load and dropped notifications.
type StatusHandler struct {
	mode     string
	store    string
	started  time.Time
	registry *ws.Registry
	notifier DropCounter
	now      func() time.Time
}

// NewStatusHandler creates a StatusHandler. registry and notifier may be nil.
func NewStatusHandler(mode, store string, registry *ws.Registry, notifier DropCounter) *StatusHandler {
	return &StatusHandler{
		mode:     mode,
		store:    store,
		started:  time.Now(),
		registry: registry,
		notifier: notifier,
		now:      time.Now,
	}
}

// GetStatus responds with the current process status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"store":          h.store,
		"uptime_seconds": int64(h.now().Sub(h.started).Seconds()),
	}
	if h.registry != nil {
		resp["channels"] = h.registry.Channels()
		resp["active_item_subscribers"] = h.registry.Subscribers(ws.ActiveItemsKey)
	}
	if h.notifier != nil {
		resp["notifications_dropped"] = h.notifier.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}
