// Package config defines the top-level configuration for quantbot and
// provides validation helpers.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by QUANTBOT_* environment
// variables.
type Config struct {
	Window   WindowConfig   `toml:"window"`
	Agent    AgentConfig    `toml:"agent"`
	Broker   BrokerConfig   `toml:"broker"`
	Feed     FeedConfig     `toml:"feed"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WindowConfig parameterizes the aggregation engine.
type WindowConfig struct {
	// Length is the tumbling window length. Windows are aligned to
	// wall-clock multiples of this value.
	Length duration `toml:"length"`

	// BufferSize is the per-instrument event channel capacity.
	BufferSize int `toml:"buffer_size"`
}

// AgentConfig parameterizes the decision loop.
type AgentConfig struct {
	PollInterval duration `toml:"poll_interval"`
	ClockRecheck duration `toml:"clock_recheck"`

	// TopN is how many instruments receive capital each cycle.
	TopN int `toml:"top_n"`

	// Factor weights of the composite score.
	WeightVWAPChange float64 `toml:"weight_vwap_change"`
	WeightJumpRatio  float64 `toml:"weight_jump_ratio"`
	WeightActivity   float64 `toml:"weight_activity"`

	// Temperature flattens (higher) or sharpens (lower) the allocation.
	Temperature float64 `toml:"temperature"`

	// DeployFraction is the fraction of equity spread across the top-N.
	DeployFraction float64 `toml:"deploy_fraction"`

	// AllowShort permits positions below zero.
	AllowShort bool `toml:"allow_short"`

	// MinOrderQty is the smallest absolute order quantity worth submitting.
	MinOrderQty float64 `toml:"min_order_qty"`

	// SyncBeforeCycle resynchronizes holdings from the broker every cycle.
	SyncBeforeCycle bool `toml:"sync_before_cycle"`
}

// BrokerConfig selects and authenticates the brokerage backend.
type BrokerConfig struct {
	// Env selects the backend: "paper", "live", or "sim".
	Env string `toml:"env"`

	KeyID  string `toml:"key_id"`
	Secret string `toml:"secret"`

	// EncryptedCredsPath points to credentials produced by the encrypt-creds
	// command; CredsPassword decrypts them.
	EncryptedCredsPath string `toml:"encrypted_creds_path"`
	CredsPassword      string `toml:"creds_password"`

	// DataURL overrides the market data host. Empty uses the default.
	DataURL string `toml:"data_url"`

	// SimCash is the starting cash of the simulated account.
	SimCash float64 `toml:"sim_cash"`

	ReadRetries int      `toml:"read_retries"`
	ReadBackoff duration `toml:"read_backoff"`
}

// FeedConfig parameterizes the trade-stream subscription.
type FeedConfig struct {
	WsURL   string   `toml:"ws_url"`
	Symbols []string `toml:"symbols"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// Enabled selects the Redis-backed metrics bus; when false the engine
	// and agent must share one process and use the in-memory bus.
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
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

// ArchiveConfig parameterizes the retention/archival sweep.
type ArchiveConfig struct {
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
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
func Defaults() Config {
	return Config{
		Window: WindowConfig{
			Length:     duration{time.Minute},
			BufferSize: 256,
		},
		Agent: AgentConfig{
			PollInterval:     duration{time.Minute},
			ClockRecheck:     duration{5 * time.Minute},
			TopN:             5,
			WeightVWAPChange: 0.5,
			WeightJumpRatio:  0.3,
			WeightActivity:   0.2,
			Temperature:      1.0,
			DeployFraction:   0.9,
			AllowShort:       false,
			MinOrderQty:      1,
			SyncBeforeCycle:  true,
		},
		Broker: BrokerConfig{
			Env:         "sim",
			SimCash:     100_000,
			ReadRetries: 3,
			ReadBackoff: duration{500 * time.Millisecond},
		},
		Feed: FeedConfig{
			WsURL: "wss://stream.data.alpaca.markets/v2/iex",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "quantbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "quantbot-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"rebalance_complete", "broker_error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"aggregate": true,
	"agent":     true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validBrokerEnvs enumerates the accepted values for BrokerConfig.Env.
var validBrokerEnvs = map[string]bool{
	"paper": true,
	"live":  true,
	"sim":   true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: aggregate, agent, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Window.Length.Duration <= 0 {
		errs = append(errs, "window: length must be positive")
	}
	if c.Window.BufferSize < 1 {
		errs = append(errs, "window: buffer_size must be >= 1")
	}

	if c.Agent.PollInterval.Duration <= 0 {
		errs = append(errs, "agent: poll_interval must be positive")
	}
	if c.Agent.ClockRecheck.Duration <= 0 {
		errs = append(errs, "agent: clock_recheck must be positive")
	}
	if c.Agent.TopN < 1 {
		errs = append(errs, "agent: top_n must be >= 1")
	}
	if c.Agent.Temperature <= 0 {
		errs = append(errs, "agent: temperature must be > 0")
	}
	ws := []float64{c.Agent.WeightVWAPChange, c.Agent.WeightJumpRatio, c.Agent.WeightActivity}
	allZero := true
	for _, w := range ws {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			errs = append(errs, "agent: factor weights must be finite")
			break
		}
		if w != 0 {
			allZero = false
		}
	}
	if allZero {
		errs = append(errs, "agent: at least one factor weight must be non-zero")
	}
	if c.Agent.DeployFraction <= 0 || c.Agent.DeployFraction > 1 {
		errs = append(errs, fmt.Sprintf("agent: deploy_fraction must be in (0, 1], got %v", c.Agent.DeployFraction))
	}

	env := strings.ToLower(c.Broker.Env)
	if !validBrokerEnvs[env] {
		errs = append(errs, fmt.Sprintf("broker: unknown env %q (valid: paper, live, sim)", c.Broker.Env))
	}
	if env == "paper" || env == "live" {
		hasPair := c.Broker.KeyID != "" && c.Broker.Secret != ""
		hasFile := c.Broker.EncryptedCredsPath != ""
		if !hasPair && !hasFile {
			errs = append(errs, "broker: either key_id/secret or encrypted_creds_path must be set for env "+env)
		}
		if hasFile && c.Broker.CredsPassword == "" {
			errs = append(errs, "broker: creds_password is required when encrypted_creds_path is set")
		}
	}
	if env == "sim" && c.Broker.SimCash <= 0 {
		errs = append(errs, "broker: sim_cash must be > 0 for env sim")
	}

	mode := strings.ToLower(c.Mode)
	if mode == "aggregate" || mode == "full" {
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty for mode "+mode)
		}
		if len(c.Feed.Symbols) == 0 {
			errs = append(errs, "feed: symbols must not be empty for mode "+mode)
		}
	}

	// Split deployments move window results between processes, so they need
	// the shared bus.
	if (mode == "aggregate" || mode == "agent") && !c.Redis.Enabled {
		errs = append(errs, "redis: must be enabled for mode "+mode)
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archival requires postgres to be enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
