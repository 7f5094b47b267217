package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
)

// BidPlacer submits a bid and announces it on success.
type BidPlacer interface {
	PlaceBid(ctx context.Context, who domain.Identity, itemID, amount int64) (auction.Receipt, error)
}

// BidHistory lists a bidder's own bids.
type BidHistory interface {
	ListBidsByBidder(ctx context.Context, bidderID int64, opts domain.ListOpts) ([]domain.Bid, error)
}

// BidHandler serves the synchronous bid path and the caller's history.
type BidHandler struct {
	bids    BidPlacer
	history BidHistory
	logger  *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(bids BidPlacer, history BidHistory, logger *slog.Logger) *BidHandler {
	return &BidHandler{bids: bids, history: history, logger: logHandler(logger, "bids")}
}

// PlaceBid accepts the same {"amount": n} body as the realtime channel and
// answers with the same accepted frame. The commit does not depend on the
// client staying connected.
// POST /api/items/{id}/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	who, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication token", ws.TypePermissionDenied)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", ws.TypeValidation)
		return
	}
	amount, frame := ws.ParseBid(raw)
	if frame != nil {
		writeJSON(w, http.StatusBadRequest, frame)
		return
	}

	receipt, err := h.bids.PlaceBid(context.WithoutCancel(r.Context()), who, id, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// MyBids lists the caller's bids across items, newest first.
// GET /api/me/bids?limit=&offset=&since=
func (h *BidHandler) MyBids(w http.ResponseWriter, r *http.Request) {
	who, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication token", ws.TypePermissionDenied)
		return
	}
	bids, err := h.history.ListBidsByBidder(r.Context(), who.UserID, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": who.UserID, "bids": nonNil(bids)})
}
