package domain

import (
	"context"
	"time"
)

// EventType names an auction event published to downstream consumers.
type EventType string

const (
	EventBidAccepted   EventType = "bid.accepted"
	EventAuctionClosed EventType = "auction.closed"
)

// Event is an auction fact published after it has been committed.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ItemID    int64     `json:"item_id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Amount    *int64    `json:"amount,omitempty"`
	BidCount  int       `json:"bid_count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher forwards committed auction events to an external stream.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NotificationKind classifies a bidder notification.
type NotificationKind string

const (
	NotifyWinner NotificationKind = "winner"
	NotifyLoser  NotificationKind = "loser"
	NotifyOutbid NotificationKind = "outbid"
)

// Notification is addressed to one user about one item.
type Notification struct {
	Kind     NotificationKind
	UserID   int64
	ItemID   int64
	ItemName string
	Amount   int64
}

// NotificationSink accepts notifications for asynchronous delivery. Enqueue
// never blocks on delivery and never reports delivery failures.
type NotificationSink interface {
	Enqueue(ctx context.Context, n Notification)
}
