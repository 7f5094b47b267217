package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// DispatcherConfig sizes the delivery queue and worker pool.
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

func (c *DispatcherConfig) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
}

// Dispatcher implements domain.NotificationSink. Enqueue hands the
// notification to a bounded queue and returns; when the queue is full the
// notification is dropped with a warning. Workers resolve the recipient's
// email through the UserStore and deliver through the Mailer.
type Dispatcher struct {
	users   domain.UserStore
	mailer  Mailer
	alerts  *Broadcaster
	cfg     DispatcherConfig
	queue   chan domain.Notification
	dropped atomic.Int64
	logger  *slog.Logger

	// mu is held shared across an Enqueue's stopped check and send, and
	// exclusively by Run when it stops, so nothing lands after the drain.
	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher creates a Dispatcher. A nil mailer logs notifications instead
// of sending them.
func NewDispatcher(users domain.UserStore, mailer Mailer, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		users:  users,
		mailer: mailer,
		cfg:    cfg,
		queue:  make(chan domain.Notification, cfg.QueueSize),
		logger: logger.With(slog.String("component", "notifier")),
	}
}

// WithAlerts mirrors every delivered notification to operator channels.
func (d *Dispatcher) WithAlerts(b *Broadcaster) *Dispatcher {
	d.alerts = b
	return d
}

// Enqueue queues n for delivery. It never blocks.
func (d *Dispatcher) Enqueue(ctx context.Context, n domain.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.drop(ctx, n, "stopped")
		return
	}
	select {
	case d.queue <- n:
	default:
		d.drop(ctx, n, "queue full")
	}
}

func (d *Dispatcher) drop(ctx context.Context, n domain.Notification, reason string) {
	d.dropped.Add(1)
	d.logger.WarnContext(ctx, "notification dropped",
		slog.String("reason", reason),
		slog.String("kind", string(n.Kind)),
		slog.Int64("user_id", n.UserID),
		slog.Int64("item_id", n.ItemID),
	)
}

// Dropped returns how many notifications were discarded.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run starts the workers and blocks until ctx is cancelled. It then stops
// accepting new notifications and delivers what is already queued before
// returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "notifier started",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("queue", d.cfg.QueueSize),
	)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(stop)
		}()
	}

	<-ctx.Done()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	close(stop)
	wg.Wait()

	d.logger.Info("notifier stopped", slog.Int64("dropped", d.dropped.Load()))
	return nil
}

func (d *Dispatcher) work(stop <-chan struct{}) {
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-stop:
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

// deliver runs on a context of its own: the caller that enqueued the
// notification may be long gone.
func (d *Dispatcher) deliver(n domain.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	if err := d.Deliver(ctx, n); err != nil {
		d.logger.WarnContext(ctx, "notification failed",
			slog.String("kind", string(n.Kind)),
			slog.Int64("user_id", n.UserID),
			slog.Int64("item_id", n.ItemID),
			slog.String("error", err.Error()),
		)
	}
}

// Deliver sends n synchronously. A user without an email address is skipped.
func (d *Dispatcher) Deliver(ctx context.Context, n domain.Notification) error {
	user, err := d.users.GetUser(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("notify: resolve user %d: %w", n.UserID, err)
	}
	subject, body := Render(n)

	var errs []error
	switch {
	case user.Email == "":
		d.logger.DebugContext(ctx, "user has no email", slog.Int64("user_id", n.UserID))
	case d.mailer == nil:
		d.logger.InfoContext(ctx, "notification",
			slog.String("to", user.Email),
			slog.String("subject", subject),
		)
	default:
		if err := d.mailer.Send(ctx, user.Email, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("notify: mail %s: %w", user.Email, err))
		}
	}

	if d.alerts.Enabled() {
		alert := Alert{Kind: n.Kind, Title: subject, Body: body, ItemID: n.ItemID, UserID: n.UserID}
		if err := d.alerts.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ domain.NotificationSink = (*Dispatcher)(nil)
