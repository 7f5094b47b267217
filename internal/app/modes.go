package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
	"github.com/alanyoungcy/auctionhouse/internal/service"
)

// core is the auction graph every mode shares: one registry, one announcer
// and one bid path, so the realtime gateway, REST and the finalizer all
// publish through the same fan-out.
type core struct {
	registry  *ws.Registry
	relay     *ws.RedisRelay
	announcer *ws.Announcer
	items     *service.ItemService
	bids      *service.BidService
	finalizer *auction.Finalizer
}

func (a *App) buildCore(deps *Dependencies) *core {
	c := &core{registry: ws.NewRegistry(a.logger)}

	var fanout ws.Fanout = ws.NewLocalFanout(c.registry)
	if a.cfg.Realtime.RedisRelay && deps.SignalBus != nil {
		c.relay = ws.NewRedisRelay(deps.SignalBus, c.registry, a.logger)
		fanout = c.relay
	}
	c.announcer = ws.NewAnnouncer(deps.AuctionStore, fanout, a.logger)

	c.items = service.NewItemService(deps.AuctionStore, deps.ItemCache, a.logger).
		WithActiveFeed(c.announcer)

	ledger := auction.NewLedger(deps.AuctionStore, deps.AuditStore, a.logger)
	c.bids = service.NewBidService(ledger, c.items, c.announcer, a.logger)
	if deps.Events != nil {
		c.bids.WithEvents(deps.Events)
	}
	if a.cfg.Auction.OutbidNotifications {
		c.bids.WithOutbidNotifications(deps.Notifier)
	}

	c.finalizer = auction.NewFinalizer(deps.AuctionStore, deps.Notifier, auction.FinalizerConfig{
		Interval: a.cfg.Auction.SweepInterval.Duration,
		LockTTL:  a.cfg.Auction.LockTTL.Duration,
	}, a.logger).WithAudit(deps.AuditStore)
	if deps.LockManager != nil {
		c.finalizer.WithLocks(deps.LockManager)
	}
	if deps.Events != nil {
		c.finalizer.WithEvents(deps.Events)
	}
	c.finalizer.AddListener(c.items)
	c.finalizer.AddListener(c.announcer)

	return c
}

// ServerMode serves the REST API and the realtime websocket endpoints.
// Lapsed auctions are left to a finalizer process; the finalize-now endpoint
// still works.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	stopNotifier := a.startNotifier(ctx, deps)
	defer stopNotifier()

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	a.serveHTTP(ctx, g, deps, c)

	return g.Wait()
}

// FinalizerMode runs the finalization sweep and, when enabled, the closed
// auction archive. Broadcasts reach server instances only through the Redis
// relay.
func (a *App) FinalizerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting finalizer mode")
	if !a.cfg.Realtime.RedisRelay {
		a.logger.WarnContext(ctx, "realtime.redis_relay is off; closures will not reach websocket subscribers of other processes")
	}

	stopNotifier := a.startNotifier(ctx, deps)
	defer stopNotifier()

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	a.finalize(ctx, g, deps, c)

	return g.Wait()
}

// FullMode runs the server and the finalizer in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	stopNotifier := a.startNotifier(ctx, deps)
	defer stopNotifier()

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	a.serveHTTP(ctx, g, deps, c)
	a.finalize(ctx, g, deps, c)

	return g.Wait()
}

// startNotifier runs the notification dispatcher on a context of its own so
// that it outlives the bid path and the finalizer. The returned stop
// function drains the queue and waits for the workers.
func (a *App) startNotifier(ctx context.Context, deps *Dependencies) (stop func()) {
	nctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = deps.Notifier.Run(nctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *App) serveHTTP(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	if c.relay != nil {
		g.Go(func() error {
			return c.relay.Run(ctx)
		})
	}

	gateway := ws.NewGateway(ctx, c.registry, c.announcer, c.bids, deps.Identity, ws.GatewayConfig{
		AllowedOrigins: a.cfg.Realtime.AllowedOrigins,
	}, a.logger)

	var events handler.EventReader
	if deps.EventStream != nil {
		events = deps.EventStream
	}
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger, deps.Health...),
		Items:  handler.NewItemHandler(c.items, c.finalizer, deps.AuditStore, a.logger),
		Bids:   handler.NewBidHandler(c.bids, c.items, a.logger),
		Admin:  handler.NewAdminHandler(events, deps.AuditStore, a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, a.cfg.Store.Driver, c.registry, deps.Notifier),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		RateLimit:       a.cfg.Server.RateLimit,
		RateWindow:      a.cfg.Server.RateWindow.Duration,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Duration,
	}, handlers, gateway, deps.Identity, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) finalize(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	g.Go(func() error {
		return c.finalizer.Run(ctx)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps.Archiver)
		})
	}
}

// runArchiver copies recently closed auctions to object storage every
// archive interval. Each pass looks back archive.lookback; already archived
// auctions are skipped by the archiver.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	lookback := a.cfg.Archive.Lookback.Duration
	a.logger.InfoContext(ctx, "archiver started",
		slog.Duration("interval", interval),
		slog.Duration("lookback", lookback),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := archiver.ArchiveClosed(ctx, time.Now().Add(-lookback))
		if err != nil && ctx.Err() == nil {
			a.logger.WarnContext(ctx, "archive pass failed",
				slog.Int64("archived", n),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
