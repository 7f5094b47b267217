// Package redis implements the item cache, the finalize lock, the rate
// limiter and the pub/sub signal bus on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix namespaces every key and channel, so several deployments can
	// share one Redis.
	KeyPrefix string
}

func (cfg ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: "auctiond",
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Client is a go-redis client bound to a key prefix. Every adapter in this
// package builds its keys through Key.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New dials Redis and fails unless the server answers PING.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	c := Wrap(redis.NewClient(cfg.options()), cfg.KeyPrefix)
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Wrap binds an existing go-redis client to keyPrefix.
func Wrap(rdb *redis.Client, keyPrefix string) *Client {
	return &Client{rdb: rdb, prefix: keyPrefix}
}

// Ping is the health check served by /api/health.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key joins parts with ":" under the configured prefix, e.g.
// Key("cache", "item", "7") is "auction:cache:item:7".
func (c *Client) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}
