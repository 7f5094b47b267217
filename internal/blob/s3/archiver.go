package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// ArchivePrefix is the key prefix under which closed auctions are
	// archived.
	ArchivePrefix = "archive/auctions/"

	// defaultBatch caps how many closed auctions one pass looks at.
	defaultBatch = 500

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// ArchiveStore is the read side of the auction store the archiver needs.
type ArchiveStore interface {
	ListClosedItems(ctx context.Context, since time.Time, limit int) ([]domain.Item, error)
	ListBids(ctx context.Context, itemID int64) ([]domain.Bid, error)
}

// ObjectChecker reports whether an object was already written.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// archiveRecord is one JSONL line. The first line of an archive carries the
// item; every following line carries one bid, oldest first.
type archiveRecord struct {
	Kind string       `json:"kind"`
	Item *domain.Item `json:"item,omitempty"`
	Bid  *domain.Bid  `json:"bid,omitempty"`
}

// Archiver implements domain.Archiver by writing each closed auction with
// its full bid ledger to object storage as one JSONL file.
//
// Archives are write-once: an auction whose file already exists is skipped,
// and a conditional write that loses a race counts as skipped too, so
// overlapping passes are harmless. Nothing is deleted from the primary
// store.
type Archiver struct {
	store  ArchiveStore
	writer domain.BlobWriter
	exists ObjectChecker
	audit  domain.AuditStore
	batch  int
	logger *slog.Logger
}

// NewArchiver creates an Archiver. exists and audit may be nil.
func NewArchiver(
	store ArchiveStore,
	writer domain.BlobWriter,
	exists ObjectChecker,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		store:  store,
		writer: writer,
		exists: exists,
		audit:  audit,
		batch:  defaultBatch,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveClosed archives every auction closed at or after since that has not
// been archived yet and returns how many were written. A failure on one
// auction does not stop the others; all failures are returned joined.
func (a *Archiver) ArchiveClosed(ctx context.Context, since time.Time) (int64, error) {
	items, err := a.store.ListClosedItems(ctx, since, a.batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list closed items: %w", err)
	}

	var (
		written int64
		errs    []error
	)
	for _, it := range items {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ok, err := a.archiveItem(ctx, it)
		if err != nil {
			a.logger.WarnContext(ctx, "s3blob: archive auction failed",
				slog.Int64("item_id", it.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		if ok {
			written++
		}
	}

	if written > 0 {
		a.logger.InfoContext(ctx, "s3blob: archived closed auctions",
			slog.Int64("count", written),
			slog.Time("since", since),
		)
	}
	return written, errors.Join(errs...)
}

func (a *Archiver) archiveItem(ctx context.Context, it domain.Item) (bool, error) {
	path := ArchivePath(it)

	if a.exists != nil {
		done, err := a.exists.Exists(ctx, path)
		if err != nil {
			return false, fmt.Errorf("s3blob: check %s: %w", path, err)
		}
		if done {
			return false, nil
		}
	}

	bids, err := a.store.ListBids(ctx, it.ID)
	if err != nil {
		return false, fmt.Errorf("s3blob: list bids for item %d: %w", it.ID, err)
	}

	records := make([]archiveRecord, 0, len(bids)+1)
	records = append(records, archiveRecord{Kind: "item", Item: &it})
	for i := range bids {
		records = append(records, archiveRecord{Kind: "bid", Bid: &bids[i]})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return false, fmt.Errorf("s3blob: marshal item %d: %w", it.ID, err)
	}

	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Another pass wrote it between the check and the upload.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("s3blob: upload %s: %w", path, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.auction", map[string]any{
			"item_id": it.ID,
			"path":    path,
			"bids":    len(bids),
		}); err != nil {
			a.logger.WarnContext(ctx, "s3blob: audit log failed",
				slog.Int64("item_id", it.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return true, nil
}

// ArchivePath is the object key of an auction's archive, partitioned by the
// month it closed:
//
//	archive/auctions/2026-06/42.jsonl
func ArchivePath(it domain.Item) string {
	closed := it.EndTime
	if it.ClosedAt != nil {
		closed = *it.ClosedAt
	}
	return fmt.Sprintf("%s%s/%d.jsonl", ArchivePrefix, closed.UTC().Format("2006-01"), it.ID)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
