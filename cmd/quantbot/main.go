// Command quantbot is the entry point for the trading bot. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode.
//
// The encrypt-creds subcommand encrypts a broker key pair for use with
// broker.encrypted_creds_path:
//
//	quantbot encrypt-creds -key-id ID -secret SECRET -password PW -out creds.enc
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftwoodlabs/quantbot/internal/app"
	"github.com/driftwoodlabs/quantbot/internal/config"
	"github.com/driftwoodlabs/quantbot/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-creds" {
		if err := encryptCreds(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-creds: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("quantbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	// Create the application.
	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the application.
	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if err == context.Canceled {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("quantbot stopped")
}

// encryptCreds encrypts a broker key pair to a file readable only by the
// configured password.
func encryptCreds(args []string) error {
	fs := flag.NewFlagSet("encrypt-creds", flag.ExitOnError)
	keyID := fs.String("key-id", "", "broker API key id")
	secret := fs.String("secret", "", "broker API secret")
	password := fs.String("password", "", "encryption password")
	out := fs.String("out", "creds.enc", "output path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *keyID == "" || *secret == "" || *password == "" {
		return fmt.Errorf("key-id, secret, and password are all required")
	}

	data, err := crypto.EncryptCredentials(crypto.Credentials{
		KeyID:  *keyID,
		Secret: *secret,
	}, *password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}

	fmt.Printf("encrypted credentials written to %s\n", *out)
	return nil
}
