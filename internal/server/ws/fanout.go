package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Fanout delivers a payload to every subscriber of a channel key, wherever
// the subscriber is connected.
type Fanout interface {
	Broadcast(ctx context.Context, key string, payload []byte)
}

// LocalFanout delivers to this process's registry only.
type LocalFanout struct {
	reg *Registry
}

// NewLocalFanout wraps reg.
func NewLocalFanout(reg *Registry) *LocalFanout {
	return &LocalFanout{reg: reg}
}

func (f *LocalFanout) Broadcast(_ context.Context, key string, payload []byte) {
	f.reg.Broadcast(key, payload)
}

// relayChannel is the pub/sub channel that carries broadcasts between
// instances.
const relayChannel = "auction:fanout"

type relayEnvelope struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay publishes broadcasts to a shared pub/sub channel; every instance
// running Run delivers them to its local registry, including the publisher.
// A process without a registry, such as a standalone finalizer, only
// publishes.
type RedisRelay struct {
	bus    domain.SignalBus
	reg    *Registry
	logger *slog.Logger
}

// NewRedisRelay creates a relay over bus. reg may be nil.
func NewRedisRelay(bus domain.SignalBus, reg *Registry, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{
		bus:    bus,
		reg:    reg,
		logger: logger.With(slog.String("component", "ws_relay")),
	}
}

// Broadcast publishes payload for key. If publishing fails the payload is
// still delivered locally so this instance's subscribers are not starved.
func (r *RedisRelay) Broadcast(ctx context.Context, key string, payload []byte) {
	data, err := json.Marshal(relayEnvelope{Key: key, Payload: payload})
	if err == nil {
		err = r.bus.Publish(ctx, relayChannel, data)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "ws: relay publish failed, delivering locally",
			slog.String("channel", key),
			slog.String("error", err.Error()),
		)
		if r.reg != nil {
			r.reg.Broadcast(key, payload)
		}
	}
}

// Run subscribes to the relay channel and feeds the local registry until ctx
// is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	msgs, err := r.bus.Subscribe(ctx, relayChannel)
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "ws: relay subscribed", slog.String("channel", relayChannel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.WarnContext(ctx, "ws: relay subscription closed")
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal(data, &env); err != nil || env.Key == "" {
				r.logger.WarnContext(ctx, "ws: dropping malformed relay message")
				continue
			}
			if r.reg != nil {
				r.reg.Broadcast(env.Key, env.Payload)
			}
		}
	}
}
