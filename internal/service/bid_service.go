package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// BidAnnouncer pushes an accepted bid to connected subscribers.
type BidAnnouncer interface {
	AnnounceBid(ctx context.Context, r auction.Receipt)
}

// BidService is the single bid path shared by the realtime gateway and the
// REST API: admit through the ledger, then fan the result out.
type BidService struct {
	ledger    *auction.Ledger
	items     *ItemService
	announcer BidAnnouncer
	events    domain.EventPublisher
	outbid    domain.NotificationSink
	logger    *slog.Logger
}

// NewBidService creates a BidService.
func NewBidService(ledger *auction.Ledger, items *ItemService, announcer BidAnnouncer, logger *slog.Logger) *BidService {
	return &BidService{
		ledger:    ledger,
		items:     items,
		announcer: announcer,
		logger:    logger.With(slog.String("component", "bid_service")),
	}
}

// WithEvents publishes a bid.accepted event for every accepted bid.
func (s *BidService) WithEvents(events domain.EventPublisher) *BidService {
	s.events = events
	return s
}

// WithOutbidNotifications tells the displaced high bidder when they are
// overtaken. Delivery is best-effort.
func (s *BidService) WithOutbidNotifications(sink domain.NotificationSink) *BidService {
	s.outbid = sink
	return s
}

// PlaceBid submits a bid and, when it is accepted, announces it. Rejections
// come back as *auction.RejectError; any other error is a store failure and
// nothing is announced.
func (s *BidService) PlaceBid(ctx context.Context, who domain.Identity, itemID, amount int64) (auction.Receipt, error) {
	r, err := s.ledger.Submit(ctx, auction.SubmitRequest{ItemID: itemID, Bidder: who, Amount: amount})
	if err != nil {
		return auction.Receipt{}, err
	}

	if s.items != nil {
		s.items.Invalidate(ctx, itemID)
	}
	if s.announcer != nil {
		s.announcer.AnnounceBid(ctx, r)
	}
	s.publish(ctx, r)

	if s.outbid != nil && r.PreviousBidderID != nil && *r.PreviousBidderID != r.UserID {
		s.outbid.Enqueue(ctx, domain.Notification{
			Kind:     domain.NotifyOutbid,
			UserID:   *r.PreviousBidderID,
			ItemID:   r.ItemID,
			ItemName: r.ItemName,
			Amount:   r.NewBid,
		})
	}
	return r, nil
}

func (s *BidService) publish(ctx context.Context, r auction.Receipt) {
	if s.events == nil {
		return
	}
	userID, amount := r.UserID, r.NewBid
	ev := domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventBidAccepted,
		ItemID:    r.ItemID,
		UserID:    &userID,
		Amount:    &amount,
		Timestamp: r.Bid.CreatedAt,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "bid_service: event publish failed",
			slog.Int64("item_id", r.ItemID),
			slog.String("error", err.Error()),
		)
	}
}
