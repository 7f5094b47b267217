package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// memBucket is an in-memory BlobWriter and ObjectChecker.
type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemBucket() *memBucket { return &memBucket{objects: make(map[string][]byte)} }

func (b *memBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if path == b.failOn {
		return errors.New("503 slow down")
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[path]; ok {
		return domain.ErrAlreadyExists
	}
	b.objects[path] = raw
	return nil
}

func (b *memBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *memBucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func closedItem(t *testing.T, s *memory.Store, closedAt time.Time, bids ...int64) domain.Item {
	t.Helper()
	ctx := context.Background()
	start := closedAt.Add(-2 * time.Hour)
	it, err := s.CreateItem(ctx, domain.Item{Name: "Rug", StartTime: start, EndTime: closedAt, StartPrice: 1})
	assert.NoError(t, err)
	for i, amt := range bids {
		bid := domain.Bid{
			ID:        it.Name + string(rune('a'+i)),
			ItemID:    it.ID,
			BidderID:  int64(i + 1),
			Amount:    amt,
			CreatedAt: start.Add(time.Duration(i+1) * time.Minute),
		}
		_, err := s.CommitBid(ctx, bid, func(domain.Item, *domain.Bid) error { return nil })
		assert.NoError(t, err)
	}
	var winner *int64
	if len(bids) > 0 {
		w := int64(len(bids))
		winner = &w
	}
	_, _, err = s.CloseItem(ctx, it.ID, closedAt, func([]domain.Bid) *int64 { return winner })
	assert.NoError(t, err)
	got, err := s.GetItem(ctx, it.ID)
	assert.NoError(t, err)
	return got
}

func TestArchiveClosedWritesLedger(t *testing.T) {
	store := memory.New()
	closedAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	it := closedItem(t, store, closedAt, 10, 20, 30)
	closedItem(t, store, closedAt.Add(time.Hour))

	bucket := newMemBucket()
	audit := memory.NewAuditLog()
	arch := NewArchiver(store, bucket, bucket, audit, discard)

	n, err := arch.ArchiveClosed(context.Background(), closedAt.Add(-time.Hour))
	assert.NoError(t, err)
	check.Equal(t, int64(2), n)
	check.Equal(t, "archive/auctions/2026-06/1.jsonl", ArchivePath(it))

	raw := bucket.objects[ArchivePath(it)]
	sc := bufio.NewScanner(bytes.NewReader(raw))
	var lines []archiveRecord
	for sc.Scan() {
		var rec archiveRecord
		assert.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	assert.Equal(t, 4, len(lines))
	check.Equal(t, "item", lines[0].Kind)
	check.Equal(t, it.ID, lines[0].Item.ID)
	check.True(t, lines[0].Item.Closed)
	for i, amt := range []int64{10, 20, 30} {
		check.Equal(t, "bid", lines[i+1].Kind)
		check.Equal(t, amt, lines[i+1].Bid.Amount)
	}
	check.Equal(t, []string{"archive.auction", "archive.auction"}, audit.Events())

	// A second pass finds everything archived already.
	n, err = arch.ArchiveClosed(context.Background(), closedAt.Add(-time.Hour))
	assert.NoError(t, err)
	check.Equal(t, int64(0), n)
}

func TestArchiveClosedContinuesPastFailure(t *testing.T) {
	store := memory.New()
	closedAt := time.Date(2026, 7, 3, 8, 0, 0, 0, time.UTC)
	bad := closedItem(t, store, closedAt, 5)
	closedItem(t, store, closedAt.Add(time.Minute), 7)

	bucket := newMemBucket()
	bucket.failOn = ArchivePath(bad)
	arch := NewArchiver(store, bucket, bucket, nil, discard)

	n, err := arch.ArchiveClosed(context.Background(), closedAt.Add(-time.Hour))
	check.Error(t, err)
	check.Equal(t, int64(1), n)
	check.Equal(t, 1, len(bucket.objects))
}

func TestArchiveClosedSkipsOlderThanSince(t *testing.T) {
	store := memory.New()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	closedItem(t, store, old, 3)

	bucket := newMemBucket()
	arch := NewArchiver(store, bucket, nil, nil, discard)
	n, err := arch.ArchiveClosed(context.Background(), old.Add(24*time.Hour))
	assert.NoError(t, err)
	check.Equal(t, int64(0), n)
}

func TestArchiveClosedLosesWriteRace(t *testing.T) {
	store := memory.New()
	closedAt := time.Date(2026, 8, 9, 10, 0, 0, 0, time.UTC)
	it := closedItem(t, store, closedAt, 4)

	// No existence check, so the conditional write is what detects the
	// archive written by another pass.
	bucket := newMemBucket()
	bucket.objects[ArchivePath(it)] = []byte("{}\n")
	audit := memory.NewAuditLog()
	arch := NewArchiver(store, bucket, nil, audit, discard)

	n, err := arch.ArchiveClosed(context.Background(), closedAt.Add(-time.Hour))
	assert.NoError(t, err)
	check.Equal(t, int64(0), n)
	check.Equal(t, "{}\n", string(bucket.objects[ArchivePath(it)]))
	check.Equal(t, 0, len(audit.Events()))
}
