package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Broker.Secret)
	redact(&out.Broker.CredsPassword)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Feed.Symbols != nil {
		out.Feed.Symbols = make([]string, len(cfg.Feed.Symbols))
		copy(out.Feed.Symbols, cfg.Feed.Symbols)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
