// Package auction holds the bid admission protocol and the finalization state
// machine. Neither component talks to connections; callers fan out results.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// RejectKind tags why a bid was refused.
type RejectKind string

const (
	KindNotFound         RejectKind = "not_found"
	KindAuctionClosed    RejectKind = "auction_closed"
	KindBidTooLow        RejectKind = "bid_too_low"
	KindPermissionDenied RejectKind = "permission_denied"
)

// RejectError is the closed set of domain failures Submit can return. Anything
// else coming out of Submit is a store failure.
type RejectError struct {
	Kind    RejectKind
	ItemID  int64
	Minimum int64
}

func (e *RejectError) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("item %d not found", e.ItemID)
	case KindAuctionClosed:
		return fmt.Sprintf("auction for item %d is not live", e.ItemID)
	case KindBidTooLow:
		return fmt.Sprintf("bid must be greater than %d", e.Minimum)
	case KindPermissionDenied:
		return "Admin cannot place bids"
	default:
		return string(e.Kind)
	}
}

// Unwrap maps the tag onto the matching domain sentinel so callers can use
// errors.Is without importing this package.
func (e *RejectError) Unwrap() error {
	switch e.Kind {
	case KindNotFound:
		return domain.ErrNotFound
	case KindAuctionClosed:
		return domain.ErrAuctionClosed
	case KindBidTooLow:
		return domain.ErrBidTooLow
	case KindPermissionDenied:
		return domain.ErrPermissionDenied
	default:
		return nil
	}
}

// AsReject extracts a RejectError from err.
func AsReject(err error) (*RejectError, bool) {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// SubmitRequest is one bid attempt by a verified caller.
type SubmitRequest struct {
	ItemID int64
	Bidder domain.Identity
	Amount int64
}

// Receipt describes an accepted bid. The exported JSON shape is the success
// frame sent to bidders.
type Receipt struct {
	ItemID int64  `json:"item_id"`
	NewBid int64  `json:"new_bid"`
	UserID int64  `json:"user_id"`
	Status string `json:"status"`

	Bid              domain.Bid `json:"-"`
	ItemName         string     `json:"-"`
	PreviousBid      *int64     `json:"-"`
	PreviousBidderID *int64     `json:"-"`
}

// Ledger validates and commits bids. It never notifies anyone.
type Ledger struct {
	store  domain.AuctionStore
	audit  domain.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

// NewLedger creates a Ledger over store. audit may be nil.
func NewLedger(store domain.AuctionStore, audit domain.AuditStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		audit:  audit,
		now:    time.Now,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// WithClock overrides the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Submit admits one bid. The role, status and amount checks all run against
// the item row locked by the store, so two concurrent bids on the same item
// are admitted in a serial order and the lower one loses.
func (l *Ledger) Submit(ctx context.Context, req SubmitRequest) (Receipt, error) {
	if !req.Bidder.Role.CanBid() {
		return Receipt{}, &RejectError{Kind: KindPermissionDenied, ItemID: req.ItemID}
	}

	bid := domain.Bid{
		ID:        uuid.NewString(),
		ItemID:    req.ItemID,
		BidderID:  req.Bidder.UserID,
		Amount:    req.Amount,
	}

	prev, err := l.store.CommitBid(ctx, bid, func(it domain.Item, locked *domain.Bid) error {
		now := l.now()
		// The end time is checked here too: a lapsed item may not have been
		// flipped to closed by the finalizer yet.
		if it.Status(now) != domain.StatusLive {
			return &RejectError{Kind: KindAuctionClosed, ItemID: it.ID}
		}
		if floor := it.MinimumBid(); bid.Amount <= floor {
			return &RejectError{Kind: KindBidTooLow, ItemID: it.ID, Minimum: floor}
		}
		// Stamped under the lock so CreatedAt follows commit order.
		locked.CreatedAt = now.UTC()
		bid.CreatedAt = locked.CreatedAt
		return nil
	})
	if err != nil {
		if rej, ok := AsReject(err); ok {
			return Receipt{}, rej
		}
		if errors.Is(err, domain.ErrNotFound) {
			return Receipt{}, &RejectError{Kind: KindNotFound, ItemID: req.ItemID}
		}
		return Receipt{}, fmt.Errorf("auction: commit bid on item %d: %w", req.ItemID, err)
	}

	receipt := Receipt{
		ItemID:           req.ItemID,
		NewBid:           bid.Amount,
		UserID:           bid.BidderID,
		Status:           "accepted",
		Bid:              bid,
		ItemName:         prev.Name,
		PreviousBid:      prev.CurrentBid,
		PreviousBidderID: prev.HighBidderID,
	}

	l.logger.InfoContext(ctx, "bid accepted",
		slog.Int64("item_id", bid.ItemID),
		slog.Int64("bidder_id", bid.BidderID),
		slog.Int64("amount", bid.Amount),
	)

	if l.audit != nil {
		if err := l.audit.Log(ctx, string(domain.EventBidAccepted), map[string]any{
			"bid_id":    bid.ID,
			"item_id":   bid.ItemID,
			"bidder_id": bid.BidderID,
			"amount":    bid.Amount,
		}); err != nil {
			l.logger.WarnContext(ctx, "audit log failed",
				slog.Int64("item_id", bid.ItemID),
				slog.String("error", err.Error()),
			)
		}
	}

	return receipt, nil
}
