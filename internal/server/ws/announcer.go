package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// SnapshotSource lists the items shown on the active-items feed.
type SnapshotSource interface {
	ListOpenItems(ctx context.Context) ([]domain.Item, error)
}

// Announcer turns committed auction changes into channel broadcasts. It is
// shared by the realtime gateway, the HTTP bid path and the finalizer.
type Announcer struct {
	items  SnapshotSource
	fanout Fanout
	now    func() time.Time
	logger *slog.Logger

	// activeMu orders feed publishes against JoinActive.
	activeMu sync.Mutex
}

// NewAnnouncer creates an Announcer.
func NewAnnouncer(items SnapshotSource, fanout Fanout, logger *slog.Logger) *Announcer {
	return &Announcer{
		items:  items,
		fanout: fanout,
		now:    time.Now,
		logger: logger.With(slog.String("component", "ws_announcer")),
	}
}

// ActiveSnapshot returns the current active-items feed payload.
func (a *Announcer) ActiveSnapshot(ctx context.Context) ([]domain.ItemSnapshot, error) {
	items, err := a.items.ListOpenItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("ws: list open items: %w", err)
	}
	return domain.Snapshots(items, a.now()), nil
}

// AnnounceBid broadcasts an accepted bid to the item channel and refreshes
// the global feed.
func (a *Announcer) AnnounceBid(ctx context.Context, r auction.Receipt) {
	a.broadcastJSON(ctx, ItemKey(r.ItemID), r)
	a.PublishActive(ctx)
}

// AuctionClosed broadcasts the final item state to its channel and refreshes
// the global feed, which no longer lists the item.
func (a *Announcer) AuctionClosed(ctx context.Context, item domain.Item) {
	a.broadcastJSON(ctx, ItemKey(item.ID), item.Snapshot(a.now()))
	a.PublishActive(ctx)
}

// PublishActive pushes a fresh active-items snapshot to the global channel.
func (a *Announcer) PublishActive(ctx context.Context) {
	a.activeMu.Lock()
	defer a.activeMu.Unlock()

	snap, err := a.ActiveSnapshot(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "ws: active snapshot failed", slog.String("error", err.Error()))
		return
	}
	a.broadcastJSON(ctx, ActiveItemsKey, snap)
}

// JoinActive queues the current feed on sub, then subscribes it to the global
// channel. It holds the lock PublishActive takes, so every broadcast sub sees
// afterwards was read after its first frame.
func (a *Announcer) JoinActive(ctx context.Context, reg *Registry, sub Subscriber) error {
	a.activeMu.Lock()
	defer a.activeMu.Unlock()

	snap, err := a.ActiveSnapshot(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("ws: marshal snapshot: %w", err)
	}
	if err := sub.Send(payload); err != nil {
		return err
	}
	reg.Subscribe(ActiveItemsKey, sub)
	return nil
}

func (a *Announcer) broadcastJSON(ctx context.Context, key string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		a.logger.ErrorContext(ctx, "ws: marshal broadcast",
			slog.String("channel", key),
			slog.String("error", err.Error()),
		)
		return
	}
	a.fanout.Broadcast(ctx, key, payload)
}

var _ auction.ClosureListener = (*Announcer)(nil)
