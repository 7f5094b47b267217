package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	s3blob "github.com/alanyoungcy/auctionhouse/internal/blob/s3"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// ArchiveHandler lets operators browse the closed-auction archive.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler over blobs.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logHandler(logger, "archive")}
}

// List returns the archived auctions, optionally for one closing month.
// GET /api/archive?month=2026-06
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := s3blob.ArchivePrefix
	if month := r.URL.Query().Get("month"); month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM", "ValidationError")
			return
		}
		prefix += month + "/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "objects": nonNil(infos)})
}

// Get streams one archived auction as JSONL.
// GET /api/archive/{month}/{id}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	month := r.PathValue("month")
	if _, err := time.Parse("2006-01", month); err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM", "ValidationError")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	body, err := h.blobs.Get(r.Context(), s3blob.ArchivePrefix+month+"/"+strconv.FormatInt(id, 10)+".jsonl")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.Int64("item_id", id),
			slog.String("error", err.Error()),
		)
	}
}
