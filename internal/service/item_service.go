package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// ActiveFeed republishes the active-items snapshot.
type ActiveFeed interface {
	PublishActive(ctx context.Context)
}

// Winner is the public result of a closed auction. WinnerID and Amount are
// nil when the auction closed without bids.
type Winner struct {
	ItemID   int64     `json:"item_id"`
	Name     string    `json:"name"`
	WinnerID *int64    `json:"winner_id"`
	Amount   *int64    `json:"amount"`
	ClosedAt time.Time `json:"closed_at"`
}

// ItemService serves item reads with a cache-aside lookup and owns item
// creation.
type ItemService struct {
	items  domain.AuctionStore
	cache  domain.ItemCache
	feed   ActiveFeed
	now    func() time.Time
	logger *slog.Logger
}

// NewItemService creates an ItemService. cache may be nil.
func NewItemService(items domain.AuctionStore, cache domain.ItemCache, logger *slog.Logger) *ItemService {
	return &ItemService{
		items:  items,
		cache:  cache,
		now:    time.Now,
		logger: logger.With(slog.String("component", "item_service")),
	}
}

// WithActiveFeed makes CreateItem refresh the active-items feed.
func (s *ItemService) WithActiveFeed(feed ActiveFeed) *ItemService {
	s.feed = feed
	return s
}

// WithClock overrides the time source.
func (s *ItemService) WithClock(now func() time.Time) *ItemService {
	s.now = now
	return s
}

// CreateItem stores a new auction lot.
func (s *ItemService) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	created, err := s.items.CreateItem(ctx, item)
	if err != nil {
		return domain.Item{}, fmt.Errorf("item_service: create: %w", err)
	}
	s.logger.InfoContext(ctx, "item_service: item created",
		slog.Int64("item_id", created.ID),
		slog.String("name", created.Name),
		slog.Time("start_time", created.StartTime),
		slog.Time("end_time", created.EndTime),
	)
	if s.feed != nil {
		s.feed.PublishActive(ctx)
	}
	return created, nil
}

// GetItem retrieves an item, checking the cache first and falling back to
// the store on a miss.
func (s *ItemService) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	if s.cache != nil {
		if it, err := s.cache.Get(ctx, id); err == nil {
			return it, nil
		}
	}

	it, err := s.items.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, fmt.Errorf("item_service: get %d: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, it); cacheErr != nil {
			s.logger.WarnContext(ctx, "item_service: cache set failed",
				slog.Int64("item_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return it, nil
}

// Snapshot returns the public view of one item.
func (s *ItemService) Snapshot(ctx context.Context, id int64) (domain.ItemSnapshot, error) {
	it, err := s.GetItem(ctx, id)
	if err != nil {
		return domain.ItemSnapshot{}, err
	}
	return it.Snapshot(s.now()), nil
}

// ListActive returns the active-items snapshot straight from the store.
func (s *ItemService) ListActive(ctx context.Context) ([]domain.ItemSnapshot, error) {
	items, err := s.items.ListOpenItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("item_service: list active: %w", err)
	}
	return domain.Snapshots(items, s.now()), nil
}

// ListBids returns an item's bid history, newest first.
func (s *ItemService) ListBids(ctx context.Context, itemID int64, opts domain.ListOpts) ([]domain.Bid, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	bids, err := s.items.ListBids(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("item_service: list bids %d: %w", itemID, err)
	}
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].CreatedAt.After(bids[j].CreatedAt) })
	return page(bids, opts), nil
}

// ListBidsByBidder returns one bidder's history across items, newest first.
func (s *ItemService) ListBidsByBidder(ctx context.Context, bidderID int64, opts domain.ListOpts) ([]domain.Bid, error) {
	bids, err := s.items.ListBidsByBidder(ctx, bidderID, opts)
	if err != nil {
		return nil, fmt.Errorf("item_service: list bids by bidder %d: %w", bidderID, err)
	}
	return bids, nil
}

// Winner returns the result of a closed auction. It reports ErrNotFound
// while the auction is still open.
func (s *ItemService) Winner(ctx context.Context, itemID int64) (Winner, error) {
	it, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return Winner{}, fmt.Errorf("item_service: winner %d: %w", itemID, err)
	}
	if !it.Closed {
		return Winner{}, fmt.Errorf("item_service: winner %d: auction still open: %w", itemID, domain.ErrNotFound)
	}
	w := Winner{ItemID: it.ID, Name: it.Name, WinnerID: it.WinnerID}
	if it.WinnerID != nil {
		w.Amount = it.CurrentBid
	}
	if it.ClosedAt != nil {
		w.ClosedAt = *it.ClosedAt
	}
	return w, nil
}

// Invalidate drops a cached item.
func (s *ItemService) Invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "item_service: cache invalidate failed",
			slog.Int64("item_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// AuctionClosed drops the closed item from the cache.
func (s *ItemService) AuctionClosed(ctx context.Context, item domain.Item) {
	s.Invalidate(ctx, item.ID)
}

func page[T any](rows []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			return nil
		}
		rows = rows[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}
	return rows
}
