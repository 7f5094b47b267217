package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Secrets become
// "***"; a URL-style database DSN keeps its host and database and has its
// password masked.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, s := range []*string{
		&out.Database.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Auth.Secret,
		&out.Notify.SMTPPassword,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	out.Database.DSN = redactDSN(cfg.Database.DSN)

	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Realtime.AllowedOrigins = slices.Clone(cfg.Realtime.AllowedOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.User == nil {
		// key=value DSNs and anything unparseable are hidden whole.
		return redacted
	}
	return u.Redacted()
}
