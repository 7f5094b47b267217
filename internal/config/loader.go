package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AUCTION_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUCTION_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "AUCTION_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUCTION_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "AUCTION_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "AUCTION_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.ShutdownTimeout, "AUCTION_SERVER_SHUTDOWN_TIMEOUT")

	// ── Store ──
	setStr(&cfg.Store.Driver, "AUCTION_STORE_DRIVER")

	// ── Database ──
	setStr(&cfg.Database.DSN, "AUCTION_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "AUCTION_DATABASE_HOST")
	setInt(&cfg.Database.Port, "AUCTION_DATABASE_PORT")
	setStr(&cfg.Database.Database, "AUCTION_DATABASE_NAME")
	setStr(&cfg.Database.User, "AUCTION_DATABASE_USER")
	setStr(&cfg.Database.Password, "AUCTION_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "AUCTION_DATABASE_SSL_MODE")
	setInt(&cfg.Database.MaxConns, "AUCTION_DATABASE_MAX_CONNS")
	setInt(&cfg.Database.MinConns, "AUCTION_DATABASE_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "AUCTION_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AUCTION_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AUCTION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUCTION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUCTION_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUCTION_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "AUCTION_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.ItemTTL, "AUCTION_REDIS_ITEM_TTL")
	setInt64(&cfg.Redis.StreamMax, "AUCTION_REDIS_STREAM_MAX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "AUCTION_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AUCTION_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AUCTION_S3_REGION")
	setStr(&cfg.S3.Bucket, "AUCTION_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AUCTION_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AUCTION_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AUCTION_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AUCTION_S3_FORCE_PATH_STYLE")

	// ── NATS ──
	setBool(&cfg.NATS.Enabled, "AUCTION_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "AUCTION_NATS_URL")
	setStr(&cfg.NATS.Stream, "AUCTION_NATS_STREAM")
	setStr(&cfg.NATS.SubjectPrefix, "AUCTION_NATS_SUBJECT_PREFIX")
	setDuration(&cfg.NATS.MaxAge, "AUCTION_NATS_MAX_AGE")

	// ── Auth ──
	setStr(&cfg.Auth.Secret, "AUCTION_AUTH_SECRET")
	setStr(&cfg.Auth.Issuer, "AUCTION_AUTH_ISSUER")
	setDuration(&cfg.Auth.TTL, "AUCTION_AUTH_TTL")
	setDuration(&cfg.Auth.Leeway, "AUCTION_AUTH_LEEWAY")

	// ── Auction ──
	setDuration(&cfg.Auction.SweepInterval, "AUCTION_AUCTION_SWEEP_INTERVAL")
	setDuration(&cfg.Auction.LockTTL, "AUCTION_AUCTION_LOCK_TTL")
	setBool(&cfg.Auction.OutbidNotifications, "AUCTION_AUCTION_OUTBID_NOTIFICATIONS")

	// ── Realtime ──
	setBool(&cfg.Realtime.RedisRelay, "AUCTION_REALTIME_REDIS_RELAY")
	setStringSlice(&cfg.Realtime.AllowedOrigins, "AUCTION_REALTIME_ALLOWED_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.SMTPHost, "AUCTION_NOTIFY_SMTP_HOST")
	setInt(&cfg.Notify.SMTPPort, "AUCTION_NOTIFY_SMTP_PORT")
	setStr(&cfg.Notify.SMTPUsername, "AUCTION_NOTIFY_SMTP_USERNAME")
	setStr(&cfg.Notify.SMTPPassword, "AUCTION_NOTIFY_SMTP_PASSWORD")
	setStr(&cfg.Notify.SMTPFrom, "AUCTION_NOTIFY_SMTP_FROM")
	setBool(&cfg.Notify.SMTPStartTLS, "AUCTION_NOTIFY_SMTP_STARTTLS")
	setInt(&cfg.Notify.QueueSize, "AUCTION_NOTIFY_QUEUE_SIZE")
	setInt(&cfg.Notify.Workers, "AUCTION_NOTIFY_WORKERS")
	setDuration(&cfg.Notify.SendTimeout, "AUCTION_NOTIFY_SEND_TIMEOUT")
	setStr(&cfg.Notify.TelegramToken, "AUCTION_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AUCTION_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AUCTION_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AUCTION_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "AUCTION_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "AUCTION_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Lookback, "AUCTION_ARCHIVE_LOOKBACK")

	// ── Top-level ──
	setStr(&cfg.Mode, "AUCTION_MODE")
	setStr(&cfg.LogLevel, "AUCTION_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
