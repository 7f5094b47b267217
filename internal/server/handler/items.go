package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
	"github.com/alanyoungcy/auctionhouse/internal/service"
)

// Finalizer closes a lapsed auction on demand.
type Finalizer interface {
	Finalize(ctx context.Context, itemID int64) (auction.Result, error)
}

// ItemHandler serves item reads, item creation and finalize-now.
type ItemHandler struct {
	items     *service.ItemService
	finalizer Finalizer
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewItemHandler creates an ItemHandler. audit may be nil.
func NewItemHandler(items *service.ItemService, finalizer Finalizer, audit domain.AuditStore, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{
		items:     items,
		finalizer: finalizer,
		audit:     audit,
		logger:    logHandler(logger, "items"),
	}
}

// ListActive returns the active snapshot, the same objects the global feed
// pushes.
// GET /api/items
func (h *ItemHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.items.ListActive(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GetItem returns one item snapshot.
// GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	snap, err := h.items.Snapshot(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListBids returns an item's bid history, newest first.
// GET /api/items/{id}/bids?limit=&offset=
func (h *ItemHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	bids, err := h.items.ListBids(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "bids": nonNil(bids)})
}

// Winner returns the result of a closed auction. Open auctions answer 404.
// GET /api/items/{id}/winner
func (h *ItemHandler) Winner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	win, err := h.items.Winner(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

type createItemRequest struct {
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	StartPrice int64     `json:"start_price"`
}

// CreateItem adds a new auction lot. Admin only.
// POST /api/items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", ws.TypeJSONDecode)
		return
	}
	item, err := h.items.CreateItem(r.Context(), domain.Item{
		Name:       req.Name,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		StartPrice: req.StartPrice,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if h.audit != nil {
		who, _ := middleware.IdentityFrom(r.Context())
		if err := h.audit.Log(r.Context(), "item.created", map[string]any{
			"item_id":  item.ID,
			"admin_id": who.UserID,
		}); err != nil {
			h.logger.WarnContext(r.Context(), "audit log failed", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusCreated, item.Snapshot(time.Now()))
}

// Finalize closes a lapsed auction now instead of waiting for the next
// sweep. Admin only.
// POST /api/items/{id}/finalize
func (h *ItemHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.finalizer.Finalize(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
