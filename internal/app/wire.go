package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/auctionhouse/internal/blob/s3"
	"github.com/alanyoungcy/auctionhouse/internal/cache/redis"
	"github.com/alanyoungcy/auctionhouse/internal/config"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/events/natsbus"
	"github.com/alanyoungcy/auctionhouse/internal/identity"
	"github.com/alanyoungcy/auctionhouse/internal/notify"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
	"github.com/alanyoungcy/auctionhouse/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional adapters are nil when their backend is disabled.
type Dependencies struct {
	// Stores
	AuctionStore domain.AuctionStore
	UserStore    domain.UserStore
	AuditStore   domain.AuditStore

	// Caches
	ItemCache   domain.ItemCache
	RateLimiter middleware.Limiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	EventStream *redis.EventStream

	// Events forwards committed auction events downstream.
	Events domain.EventPublisher

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Identity is nil in modes that do not serve HTTP.
	Identity *identity.Tokens

	// Notifications
	Notifier *notify.Dispatcher

	// Health lists the dependency checks served by /api/health.
	Health []handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Auction store ---
	switch cfg.Store.Driver {
	case "memory":
		mem := memory.New()
		deps.AuctionStore = mem
		deps.UserStore = mem
		deps.AuditStore = memory.NewAuditLog()
		logger.WarnContext(ctx, "wire: using in-memory store, auctions are lost on restart")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.AuctionStore = postgres.NewItemStore(pool)
		deps.UserStore = postgres.NewUserStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health = append(deps.Health, handler.Check{Name: "postgres", Ping: pgClient.Ping})
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("wire: redis close", slog.String("error", err.Error()))
			}
		})

		bus := redis.NewSignalBus(redisClient, cfg.Redis.StreamMax)
		deps.SignalBus = bus
		deps.EventStream = redis.NewEventStream(bus)
		deps.ItemCache = redis.NewItemCache(redisClient, cfg.Redis.ItemTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		deps.Health = append(deps.Health, handler.Check{Name: "redis", Ping: redisClient.Ping})
	} else {
		deps.RateLimiter = middleware.NewLocalLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
	}

	// --- Event publishers ---
	var publishers multiPublisher
	if deps.EventStream != nil {
		publishers = append(publishers, deps.EventStream)
	}
	if cfg.NATS.Enabled {
		pub, err := natsbus.Connect(ctx, natsbus.Config{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxAge:        cfg.NATS.MaxAge.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: nats: %w", err))
		}
		closers = append(closers, pub.Close)
		publishers = append(publishers, pub)
	}
	switch len(publishers) {
	case 0:
	case 1:
		deps.Events = publishers[0]
	default:
		deps.Events = publishers
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		bucket := s3blob.NewBucket(s3Client)
		deps.BlobWriter = bucket
		deps.BlobReader = bucket
		deps.Archiver = s3blob.NewArchiver(deps.AuctionStore, bucket, bucket, deps.AuditStore, logger)
		deps.Health = append(deps.Health, handler.Check{Name: "s3", Ping: s3Client.Health})
	}

	// --- Identity ---
	if cfg.ServesHTTP() {
		tokens, err := identity.New(identity.Config{
			Secret: cfg.Auth.Secret,
			Issuer: cfg.Auth.Issuer,
			TTL:    cfg.Auth.TTL.Duration,
			Leeway: cfg.Auth.Leeway.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: identity: %w", err))
		}
		// The in-memory store has no accounts to check tokens against.
		if cfg.Store.Driver != "memory" {
			tokens = tokens.WithUsers(deps.UserStore)
		}
		deps.Identity = tokens
	}

	// --- Notifications ---
	var mailer notify.Mailer
	if cfg.Notify.SMTPHost != "" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.SMTPUsername,
			Password: cfg.Notify.SMTPPassword,
			From:     cfg.Notify.SMTPFrom,
			StartTLS: cfg.Notify.SMTPStartTLS,
		})
	} else {
		logger.WarnContext(ctx, "wire: notify.smtp_host not set, bidder notifications are only logged")
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}

	deps.Notifier = notify.NewDispatcher(deps.UserStore, mailer, notify.DispatcherConfig{
		QueueSize:   cfg.Notify.QueueSize,
		Workers:     cfg.Notify.Workers,
		SendTimeout: cfg.Notify.SendTimeout.Duration,
	}, logger).WithAlerts(notify.NewBroadcaster(senders, cfg.Notify.Events, logger))

	return deps, cleanup, nil
}

// multiPublisher forwards each event to every publisher. All publishers are
// tried; failures are returned joined.
type multiPublisher []domain.EventPublisher

func (m multiPublisher) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
