package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const (
	// DefaultSweepInterval is how often Run scans for lapsed items.
	DefaultSweepInterval = 60 * time.Second

	defaultLockTTL = 30 * time.Second
)

// Outcome is the result of one finalize attempt.
type Outcome string

const (
	// OutcomeClosed means this call flipped the item to closed and sent the
	// notifications.
	OutcomeClosed Outcome = "closed"
	// OutcomeAlreadyClosed means the item was closed before or by a racing
	// caller; nothing was sent.
	OutcomeAlreadyClosed Outcome = "already_closed"
	// OutcomeNotDue means the item's end time has not passed.
	OutcomeNotDue Outcome = "not_due"
	// OutcomeBusy means another process holds the finalize lock.
	OutcomeBusy Outcome = "busy"
)

// Result describes a finalize attempt on one item.
type Result struct {
	ItemID     int64   `json:"item_id"`
	Outcome    Outcome `json:"outcome"`
	WinnerID   *int64  `json:"winner_id,omitempty"`
	WinningBid *int64  `json:"winning_bid,omitempty"`
	Losers     int     `json:"losers"`
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Scanned int
	Closed  int
	Failed  int
}

// ClosureListener is told about every item this process closes.
type ClosureListener interface {
	AuctionClosed(ctx context.Context, item domain.Item)
}

// ClosureListenerFunc adapts a function to ClosureListener.
type ClosureListenerFunc func(ctx context.Context, item domain.Item)

func (f ClosureListenerFunc) AuctionClosed(ctx context.Context, item domain.Item) { f(ctx, item) }

// FinalizerConfig tunes the sweep.
type FinalizerConfig struct {
	Interval time.Duration
	LockTTL  time.Duration
}

// Finalizer closes lapsed auctions, picks the winner and fans out the
// winner and loser notifications exactly once per item. The store's
// conditional close is the exclusivity gate; the optional distributed lock
// only keeps several sweepers from doing the same reads.
type Finalizer struct {
	store     domain.AuctionStore
	sink      domain.NotificationSink
	audit     domain.AuditStore
	locks     domain.LockManager
	events    domain.EventPublisher
	listeners []ClosureListener
	interval  time.Duration
	lockTTL   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewFinalizer creates a Finalizer. sink may be nil, in which case no
// notifications are sent.
func NewFinalizer(store domain.AuctionStore, sink domain.NotificationSink, cfg FinalizerConfig, logger *slog.Logger) *Finalizer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Finalizer{
		store:    store,
		sink:     sink,
		interval: interval,
		lockTTL:  lockTTL,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "finalizer")),
	}
}

// WithAudit records every closure in the audit log.
func (f *Finalizer) WithAudit(audit domain.AuditStore) *Finalizer {
	f.audit = audit
	return f
}

// WithLocks guards each item with a distributed lock.
func (f *Finalizer) WithLocks(locks domain.LockManager) *Finalizer {
	f.locks = locks
	return f
}

// WithEvents publishes an auction.closed event per closure.
func (f *Finalizer) WithEvents(events domain.EventPublisher) *Finalizer {
	f.events = events
	return f
}

// WithClock overrides the time source.
func (f *Finalizer) WithClock(now func() time.Time) *Finalizer {
	f.now = now
	return f
}

// AddListener registers a listener for closures performed by this process.
func (f *Finalizer) AddListener(l ClosureListener) {
	f.listeners = append(f.listeners, l)
}

// Run sweeps once on start, to catch up on items that lapsed while the
// process was down, then every interval until ctx is cancelled.
func (f *Finalizer) Run(ctx context.Context) error {
	f.logger.InfoContext(ctx, "finalizer started", slog.Duration("interval", f.interval))

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if _, err := f.Sweep(ctx); err != nil && ctx.Err() == nil {
			f.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep finalizes every lapsed item. A failure on one item is logged and the
// sweep moves on; only a failure to list items is returned.
func (f *Finalizer) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	items, err := f.store.ListLapsedItems(ctx, f.now())
	if err != nil {
		return report, fmt.Errorf("auction: list lapsed items: %w", err)
	}

	for _, it := range items {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++

		res, err := f.Finalize(ctx, it.ID)
		if err != nil {
			report.Failed++
			f.logger.ErrorContext(ctx, "finalize item failed",
				slog.Int64("item_id", it.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if res.Outcome == OutcomeClosed {
			report.Closed++
		}
	}

	if report.Scanned > 0 {
		f.logger.InfoContext(ctx, "sweep complete",
			slog.Int("scanned", report.Scanned),
			slog.Int("closed", report.Closed),
			slog.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// Finalize closes a single item if it has lapsed. Calling it on an item that
// is already closed, or not yet due, is a no-op.
func (f *Finalizer) Finalize(ctx context.Context, itemID int64) (Result, error) {
	res := Result{ItemID: itemID}

	item, err := f.store.GetItem(ctx, itemID)
	if err != nil {
		return res, fmt.Errorf("auction: get item %d: %w", itemID, err)
	}
	if item.Closed {
		res.Outcome = OutcomeAlreadyClosed
		return res, nil
	}
	now := f.now()
	if !item.Lapsed(now) {
		res.Outcome = OutcomeNotDue
		return res, nil
	}

	if f.locks != nil {
		unlock, err := f.locks.Acquire(ctx, "finalize:"+strconv.FormatInt(itemID, 10), f.lockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			res.Outcome = OutcomeBusy
			return res, nil
		case err != nil:
			// The conditional close still guarantees a single winner.
			f.logger.WarnContext(ctx, "finalize lock unavailable, continuing",
				slog.Int64("item_id", itemID),
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	// The winner is picked inside CloseItem, under the lock CommitBid takes,
	// so a bid admitted just before the close is counted.
	var (
		winning   domain.Bid
		hasWinner bool
		winnerID  *int64
	)
	bids, flipped, err := f.store.CloseItem(ctx, itemID, now, func(bids []domain.Bid) *int64 {
		winning, hasWinner = SelectWinner(bids)
		if !hasWinner {
			return nil
		}
		id := winning.BidderID
		winnerID = &id
		return winnerID
	})
	if err != nil {
		return res, fmt.Errorf("auction: close item %d: %w", itemID, err)
	}
	if !flipped {
		res.Outcome = OutcomeAlreadyClosed
		return res, nil
	}

	if hasWinner {
		amount, bidder := winning.Amount, winning.BidderID
		item.CurrentBid = &amount
		item.HighBidderID = &bidder
	}
	item.Closed = true
	item.WinnerID = winnerID
	closedAt := now.UTC()
	item.ClosedAt = &closedAt

	res.Outcome = OutcomeClosed
	res.WinnerID = winnerID
	if hasWinner {
		amount := winning.Amount
		res.WinningBid = &amount
	}

	losers := Losers(bids, winnerID)
	res.Losers = len(losers)
	f.notify(ctx, item, winning, hasWinner, losers)

	f.logger.InfoContext(ctx, "auction closed",
		slog.Int64("item_id", itemID),
		slog.Int("bids", len(bids)),
		slog.Bool("has_winner", hasWinner),
	)

	f.record(ctx, item, res, len(bids))

	for _, l := range f.listeners {
		l.AuctionClosed(ctx, item)
	}

	return res, nil
}

func (f *Finalizer) notify(ctx context.Context, item domain.Item, winning domain.Bid, hasWinner bool, losers []int64) {
	if f.sink == nil || !hasWinner {
		return
	}
	f.sink.Enqueue(ctx, domain.Notification{
		Kind:     domain.NotifyWinner,
		UserID:   winning.BidderID,
		ItemID:   item.ID,
		ItemName: item.Name,
		Amount:   winning.Amount,
	})
	for _, id := range losers {
		f.sink.Enqueue(ctx, domain.Notification{
			Kind:     domain.NotifyLoser,
			UserID:   id,
			ItemID:   item.ID,
			ItemName: item.Name,
			Amount:   winning.Amount,
		})
	}
}

// record writes the audit entry and the downstream event. Both are
// best-effort; the closure itself is already committed.
func (f *Finalizer) record(ctx context.Context, item domain.Item, res Result, bidCount int) {
	if f.audit != nil {
		detail := map[string]any{
			"item_id": item.ID,
			"bids":    bidCount,
			"losers":  res.Losers,
		}
		if res.WinnerID != nil {
			detail["winner_id"] = *res.WinnerID
			detail["winning_bid"] = *res.WinningBid
		}
		if err := f.audit.Log(ctx, string(domain.EventAuctionClosed), detail); err != nil {
			f.logger.WarnContext(ctx, "audit log failed",
				slog.Int64("item_id", item.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if f.events != nil {
		ev := domain.Event{
			ID:        uuid.NewString(),
			Type:      domain.EventAuctionClosed,
			ItemID:    item.ID,
			UserID:    res.WinnerID,
			Amount:    res.WinningBid,
			BidCount:  bidCount,
			Timestamp: f.now().UTC(),
		}
		if err := f.events.Publish(ctx, ev); err != nil {
			f.logger.WarnContext(ctx, "publish closed event failed",
				slog.Int64("item_id", item.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// SelectWinner returns the highest bid. Among equal amounts the earliest bid
// wins, then the lexically smaller id so the choice is deterministic.
func SelectWinner(bids []domain.Bid) (domain.Bid, bool) {
	if len(bids) == 0 {
		return domain.Bid{}, false
	}
	best := bids[0]
	for _, b := range bids[1:] {
		switch {
		case b.Amount > best.Amount:
			best = b
		case b.Amount < best.Amount:
		case b.CreatedAt.Before(best.CreatedAt):
			best = b
		case b.CreatedAt.Equal(best.CreatedAt) && b.ID < best.ID:
			best = b
		}
	}
	return best, true
}

// Losers returns every distinct bidder other than the winner, in order of
// their first bid.
func Losers(bids []domain.Bid, winnerID *int64) []int64 {
	seen := make(map[int64]bool, len(bids))
	var out []int64
	for _, b := range bids {
		if winnerID != nil && b.BidderID == *winnerID {
			continue
		}
		if seen[b.BidderID] {
			continue
		}
		seen[b.BidderID] = true
		out = append(out, b.BidderID)
	}
	return out
}
