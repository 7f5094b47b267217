// Package notify delivers auction notifications. Bidders are addressed by
// email through a Mailer; operators can additionally receive a copy of
// selected kinds on chat channels (Discord, Telegram) through a Broadcaster.
//
// Delivery is asynchronous: the Dispatcher queues notifications and worker
// goroutines deliver them, so the bid and finalization paths never wait on
// a mail server.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Alert is the operator copy of a bidder notification.
type Alert struct {
	Kind   domain.NotificationKind
	Title  string
	Body   string
	ItemID int64
	UserID int64
}

// Sender is one operator chat channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Broadcaster fans alerts out to every Sender at once. Only kinds in the
// allowed set are forwarded; an empty set allows all of them.
type Broadcaster struct {
	senders []Sender
	kinds   map[domain.NotificationKind]bool
	logger  *slog.Logger
}

// NewBroadcaster creates a Broadcaster. kinds holds notification kind names
// as configured in notify.events.
func NewBroadcaster(senders []Sender, kinds []string, logger *slog.Logger) *Broadcaster {
	allowed := make(map[domain.NotificationKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.NotificationKind(k)] = true
		}
	}
	return &Broadcaster{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "broadcaster")),
	}
}

// Enabled reports whether at least one sender is configured.
func (b *Broadcaster) Enabled() bool {
	return b != nil && len(b.senders) > 0
}

// Notify sends a to all senders concurrently and waits for them. Failures
// are joined; one failing channel does not hold back the others.
func (b *Broadcaster) Notify(ctx context.Context, a Alert) error {
	if !b.Enabled() {
		return nil
	}
	if len(b.kinds) > 0 && !b.kinds[a.Kind] {
		b.logger.DebugContext(ctx, "alert filtered out", slog.String("kind", string(a.Kind)))
		return nil
	}

	errs := make([]error, len(b.senders))
	var wg sync.WaitGroup
	for i, s := range b.senders {
		wg.Go(func() {
			if err := s.Send(ctx, a); err != nil {
				b.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.Int64("item_id", a.ItemID),
					slog.String("error", err.Error()),
				)
				errs[i] = fmt.Errorf("notify: %s: %w", s.Name(), err)
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}
