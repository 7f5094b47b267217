// Package natsbus publishes committed auction events to a NATS JetStream
// stream for downstream consumers such as analytics and archival workers.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const (
	DefaultStream        = "AUCTION_EVENTS"
	DefaultSubjectPrefix = "auction.events"
	defaultMaxAge        = 7 * 24 * time.Hour
)

// Config controls the connection and the stream the publisher writes to.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
	Replicas      int
	ClientName    string
}

func (c *Config) defaults() {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.MaxAge <= 0 {
		c.MaxAge = defaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	if c.ClientName == "" {
		c.ClientName = "auctiond"
	}
}

// Publisher implements domain.EventPublisher on JetStream.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	logger *slog.Logger
}

// Connect dials NATS, ensures the stream exists and returns a Publisher.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	cfg.defaults()
	logger = logger.With(slog.String("component", "natsbus"))

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("natsbus: disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("natsbus: reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsbus: jetstream: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Committed auction events",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Replicas:    cfg.Replicas,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsbus: ensure stream %s: %w", cfg.Stream, err)
	}

	logger.Info("natsbus: stream ready",
		slog.String("stream", cfg.Stream),
		slog.String("subjects", cfg.SubjectPrefix+".>"),
	)
	return &Publisher{nc: nc, js: js, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Publish writes ev to its subject. The event id doubles as the JetStream
// message id so a retried publish is deduplicated by the server.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("natsbus: marshal event: %w", err)
	}
	subject := Subject(p.prefix, ev)

	var opts []jetstream.PublishOpt
	if ev.ID != "" {
		opts = append(opts, jetstream.WithMsgID(ev.ID))
	}
	ack, err := p.js.Publish(ctx, subject, data, opts...)
	if err != nil {
		return fmt.Errorf("natsbus: publish %s: %w", subject, err)
	}
	p.logger.DebugContext(ctx, "natsbus: published",
		slog.String("subject", subject),
		slog.Uint64("seq", ack.Sequence),
	)
	return nil
}

// Close drains the connection, flushing pending publishes.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.logger.Warn("natsbus: drain", slog.String("error", err.Error()))
	}
}

// Subject builds the subject an event is published on:
//
//	auction.events.bid.accepted.42
func Subject(prefix string, ev domain.Event) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + string(ev.Type) + "." + strconv.FormatInt(ev.ItemID, 10)
}

var _ domain.EventPublisher = (*Publisher)(nil)
