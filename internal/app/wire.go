package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/driftwoodlabs/quantbot/internal/blob/s3"
	"github.com/driftwoodlabs/quantbot/internal/broker/alpaca"
	"github.com/driftwoodlabs/quantbot/internal/broker/sim"
	"github.com/driftwoodlabs/quantbot/internal/bus/mem"
	redisbus "github.com/driftwoodlabs/quantbot/internal/bus/redis"
	"github.com/driftwoodlabs/quantbot/internal/config"
	"github.com/driftwoodlabs/quantbot/internal/crypto"
	"github.com/driftwoodlabs/quantbot/internal/domain"
	"github.com/driftwoodlabs/quantbot/internal/notify"
	"github.com/driftwoodlabs/quantbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Bus carries window results from the aggregation engine to the agent.
	Bus domain.MetricsBus

	// Broker is nil in aggregate mode.
	Broker domain.Broker

	// Stores are nil unless Postgres is enabled.
	Windows   domain.WindowStore
	Decisions domain.DecisionStore

	// Archiver is nil unless both S3 and Postgres are enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
}

// needsBroker returns true for modes that trade.
func needsBroker(mode string) bool {
	switch mode {
	case "agent", "full":
		return true
	default:
		return false
	}
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

	deps := &Dependencies{}
	mode := strings.ToLower(cfg.Mode)

	// --- Metrics bus ---
	// Redis carries results between the aggregate and agent processes. The
	// in-memory bus only works when both halves share one process.
	if cfg.Redis.Enabled {
		redisClient, err := redisbus.Dial(ctx, redisbus.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Bus = redisbus.NewMetricsBus(redisClient)
	} else {
		deps.Bus = mem.New()
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Windows = postgres.NewWindowStore(pool)
		deps.Decisions = postgres.NewDecisionStore(pool)
	}

	// --- Broker ---
	if needsBroker(mode) {
		b, err := buildBroker(cfg.Broker)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: broker: %w", err)
		}
		deps.Broker = b
	}

	// --- S3 blob storage ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		// Archiver needs Postgres stores with ListBefore to drain from.
		if deps.Windows != nil {
			deps.Archiver = s3blob.NewArchiver(writer, deps.Windows, deps.Decisions, logger)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildBroker selects the brokerage backend from config. Paper and live
// environments authenticate with a direct key pair or an encrypted credential
// file; sim needs no credentials.
func buildBroker(cfg config.BrokerConfig) (domain.Broker, error) {
	switch strings.ToLower(cfg.Env) {
	case "sim":
		return sim.New(cfg.SimCash), nil
	case "paper", "live":
		creds, err := crypto.LoadCredentials(crypto.CredentialConfig{
			KeyID:         cfg.KeyID,
			Secret:        cfg.Secret,
			EncryptedPath: cfg.EncryptedCredsPath,
			Password:      cfg.CredsPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		tradeURL := alpaca.PaperBaseURL
		if strings.ToLower(cfg.Env) == "live" {
			tradeURL = alpaca.LiveBaseURL
		}
		return alpaca.NewClient(tradeURL, cfg.DataURL, creds.KeyID, creds.Secret), nil
	default:
		return nil, fmt.Errorf("unknown broker env %q", cfg.Env)
	}
}
