// Package config defines the top-level configuration for the auction server
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUCTION_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	NATS     NATSConfig     `toml:"nats"`
	Auth     AuthConfig     `toml:"auth"`
	Auction  AuctionConfig  `toml:"auction"`
	Realtime RealtimeConfig `toml:"realtime"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// StoreConfig selects the auction store implementation.
type StoreConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps everything
	// in-process and is lost on restart.
	Driver string `toml:"driver"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	ItemTTL    duration `toml:"item_ttl"`
	StreamMax  int64    `toml:"stream_max"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NATSConfig holds the JetStream auction event stream parameters.
type NATSConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           string   `toml:"url"`
	Stream        string   `toml:"stream"`
	SubjectPrefix string   `toml:"subject_prefix"`
	MaxAge        duration `toml:"max_age"`
}

// AuthConfig holds bearer-token parameters.
type AuthConfig struct {
	Secret string   `toml:"secret"`
	Issuer string   `toml:"issuer"`
	TTL    duration `toml:"ttl"`
	Leeway duration `toml:"leeway"`
}

// AuctionConfig tunes the finalization sweep.
type AuctionConfig struct {
	SweepInterval       duration `toml:"sweep_interval"`
	LockTTL             duration `toml:"lock_ttl"`
	OutbidNotifications bool     `toml:"outbid_notifications"`
}

// RealtimeConfig holds websocket gateway parameters.
type RealtimeConfig struct {
	// RedisRelay fans broadcasts out through Redis pub/sub so subscribers
	// connected to other instances receive them. Requires redis.enabled.
	RedisRelay     bool     `toml:"redis_relay"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// NotifyConfig holds bidder mail settings and operator alert channels.
type NotifyConfig struct {
	SMTPHost     string   `toml:"smtp_host"`
	SMTPPort     int      `toml:"smtp_port"`
	SMTPUsername string   `toml:"smtp_username"`
	SMTPPassword string   `toml:"smtp_password"`
	SMTPFrom     string   `toml:"smtp_from"`
	SMTPStartTLS bool     `toml:"smtp_starttls"`
	QueueSize    int      `toml:"queue_size"`
	Workers      int      `toml:"workers"`
	SendTimeout  duration `toml:"send_timeout"`

	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls the periodic copy of closed auctions to S3.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Lookback duration `toml:"lookback"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			RateLimit:       20,
			RateWindow:      duration{time.Second},
			ShutdownTimeout: duration{15 * time.Second},
		},
		Store: StoreConfig{
			Driver: "postgres",
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "auction",
			User:          "postgres",
			SSLMode:       "disable",
			MaxConns:      20,
			MinConns:      2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "auction:",
			ItemTTL:    duration{30 * time.Second},
			StreamMax:  10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "auction-archive",
			ForcePathStyle: true,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Stream:        "AUCTION_EVENTS",
			SubjectPrefix: "auction.events",
			MaxAge:        duration{7 * 24 * time.Hour},
		},
		Auth: AuthConfig{
			Issuer: "auctiond",
			TTL:    duration{30 * time.Minute},
			Leeway: duration{5 * time.Second},
		},
		Auction: AuctionConfig{
			SweepInterval:       duration{60 * time.Second},
			LockTTL:             duration{30 * time.Second},
			OutbidNotifications: true,
		},
		Notify: NotifyConfig{
			SMTPPort:     587,
			SMTPFrom:     "auctions@localhost",
			SMTPStartTLS: true,
			QueueSize:    1024,
			Workers:      4,
			SendTimeout:  duration{15 * time.Second},
		},
		Archive: ArchiveConfig{
			Interval: duration{time.Hour},
			Lookback: duration{7 * 24 * time.Hour},
		},
	}
}

var validModes = map[string]bool{
	"server":    true,
	"finalizer": true,
	"full":      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ServesHTTP reports whether the mode runs the HTTP and websocket server.
func (c *Config) ServesHTTP() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// Finalizes reports whether the mode runs the finalization sweep.
func (c *Config) Finalizes() bool {
	m := strings.ToLower(c.Mode)
	return m == "finalizer" || m == "full"
}

// Validate checks the configuration for logical errors and returns all of
// them at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, finalizer, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch c.Store.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.MaxConns < 1 {
			errs = append(errs, "database: max_conns must be >= 1")
		}
		if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
			errs = append(errs, "database: min_conns must be between 0 and max_conns")
		}
	case "memory":
		// The server and the sweep must share one process to share the data.
		if strings.ToLower(c.Mode) != "full" {
			errs = append(errs, "store: driver memory requires mode full")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver))
	}

	// Server
	if c.ServesHTTP() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
		if c.Auth.Secret == "" {
			errs = append(errs, "auth: secret must be set for mode "+c.Mode)
		}
		if c.Auth.TTL.Duration <= 0 {
			errs = append(errs, "auth: ttl must be positive")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Realtime.RedisRelay && !c.Redis.Enabled {
		errs = append(errs, "realtime: redis_relay requires redis.enabled")
	}

	// S3 and archive
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: enabled requires s3.enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.Lookback.Duration <= 0 {
			errs = append(errs, "archive: lookback must be positive")
		}
	}

	// NATS
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			errs = append(errs, "nats: url must not be empty")
		}
		if c.NATS.Stream == "" || c.NATS.SubjectPrefix == "" {
			errs = append(errs, "nats: stream and subject_prefix must not be empty")
		}
	}

	// Auction
	if c.Auction.SweepInterval.Duration <= 0 {
		errs = append(errs, "auction: sweep_interval must be positive")
	}
	if c.Auction.LockTTL.Duration <= 0 {
		errs = append(errs, "auction: lock_ttl must be positive")
	}

	// Notify
	if c.Notify.QueueSize < 1 {
		errs = append(errs, "notify: queue_size must be >= 1")
	}
	if c.Notify.Workers < 1 {
		errs = append(errs, "notify: workers must be >= 1")
	}
	if c.Notify.SMTPHost != "" && c.Notify.SMTPFrom == "" {
		errs = append(errs, "notify: smtp_from is required when smtp_host is set")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
