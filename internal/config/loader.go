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
// built-in defaults, applies QUANTBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known QUANTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setDuration(&cfg.Window.Length, "QUANTBOT_WINDOW_LENGTH")
	setInt(&cfg.Window.BufferSize, "QUANTBOT_WINDOW_BUFFER_SIZE")

	setDuration(&cfg.Agent.PollInterval, "QUANTBOT_AGENT_POLL_INTERVAL")
	setDuration(&cfg.Agent.ClockRecheck, "QUANTBOT_AGENT_CLOCK_RECHECK")
	setInt(&cfg.Agent.TopN, "QUANTBOT_AGENT_TOP_N")
	setFloat64(&cfg.Agent.WeightVWAPChange, "QUANTBOT_AGENT_WEIGHT_VWAP_CHANGE")
	setFloat64(&cfg.Agent.WeightJumpRatio, "QUANTBOT_AGENT_WEIGHT_JUMP_RATIO")
	setFloat64(&cfg.Agent.WeightActivity, "QUANTBOT_AGENT_WEIGHT_ACTIVITY")
	setFloat64(&cfg.Agent.Temperature, "QUANTBOT_AGENT_TEMPERATURE")
	setFloat64(&cfg.Agent.DeployFraction, "QUANTBOT_AGENT_DEPLOY_FRACTION")
	setBool(&cfg.Agent.AllowShort, "QUANTBOT_AGENT_ALLOW_SHORT")
	setFloat64(&cfg.Agent.MinOrderQty, "QUANTBOT_AGENT_MIN_ORDER_QTY")
	setBool(&cfg.Agent.SyncBeforeCycle, "QUANTBOT_AGENT_SYNC_BEFORE_CYCLE")

	setStr(&cfg.Broker.Env, "QUANTBOT_BROKER_ENV")
	setStr(&cfg.Broker.KeyID, "QUANTBOT_BROKER_KEY_ID")
	setStr(&cfg.Broker.Secret, "QUANTBOT_BROKER_SECRET")
	setStr(&cfg.Broker.EncryptedCredsPath, "QUANTBOT_BROKER_ENCRYPTED_CREDS_PATH")
	setStr(&cfg.Broker.CredsPassword, "QUANTBOT_BROKER_CREDS_PASSWORD")
	setStr(&cfg.Broker.DataURL, "QUANTBOT_BROKER_DATA_URL")
	setFloat64(&cfg.Broker.SimCash, "QUANTBOT_BROKER_SIM_CASH")
	setInt(&cfg.Broker.ReadRetries, "QUANTBOT_BROKER_READ_RETRIES")
	setDuration(&cfg.Broker.ReadBackoff, "QUANTBOT_BROKER_READ_BACKOFF")

	setStr(&cfg.Feed.WsURL, "QUANTBOT_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "QUANTBOT_FEED_SYMBOLS")

	setBool(&cfg.Redis.Enabled, "QUANTBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "QUANTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "QUANTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "QUANTBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "QUANTBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "QUANTBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "QUANTBOT_REDIS_TLS_ENABLED")

	setBool(&cfg.Postgres.Enabled, "QUANTBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "QUANTBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "QUANTBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "QUANTBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "QUANTBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "QUANTBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "QUANTBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "QUANTBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "QUANTBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "QUANTBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "QUANTBOT_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.S3.Enabled, "QUANTBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "QUANTBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "QUANTBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "QUANTBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "QUANTBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "QUANTBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "QUANTBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "QUANTBOT_S3_FORCE_PATH_STYLE")

	setInt(&cfg.Archive.RetentionDays, "QUANTBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "QUANTBOT_ARCHIVE_INTERVAL")

	setStr(&cfg.Notify.TelegramToken, "QUANTBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "QUANTBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "QUANTBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "QUANTBOT_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "QUANTBOT_MODE")
	setStr(&cfg.LogLevel, "QUANTBOT_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
