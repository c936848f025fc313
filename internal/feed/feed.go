package feed

import (
	"context"
	"log/slog"
	"time"
)

const (
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// TradeFeed keeps a trade-stream subscription alive for a fixed symbol set,
// reconnecting with exponential backoff, and dispatches every trade to the
// configured handler.
type TradeFeed struct {
	wsURL        string
	symbols      []string
	onTrade      TradeHandler
	onDisconnect func(ctx context.Context, backoff time.Duration)
	logger       *slog.Logger
}

// NewTradeFeed creates a feed for the given endpoint and symbols.
func NewTradeFeed(wsURL string, symbols []string, onTrade TradeHandler, logger *slog.Logger) *TradeFeed {
	return &TradeFeed{
		wsURL:   wsURL,
		symbols: symbols,
		onTrade: onTrade,
		logger:  logger.With(slog.String("component", "trade_feed")),
	}
}

// OnDisconnect registers a hook invoked after every connection loss with the
// backoff that will elapse before the next attempt. Must be set before Run.
func (f *TradeFeed) OnDisconnect(hook func(ctx context.Context, backoff time.Duration)) {
	f.onDisconnect = hook
}

// Run connects and subscribes, then blocks until ctx is cancelled. Every
// disconnect triggers a reconnect with exponential backoff; a successful
// session resets the backoff.
func (f *TradeFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		dead, err := f.connect(ctx)
		if err != nil {
			f.logger.Warn("trade feed connect failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("backoff", delay))
		} else {
			delay = reconnectDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-dead:
				f.logger.Warn("trade feed disconnected, reconnecting",
					slog.Duration("backoff", delay))
			}
		}
		if f.onDisconnect != nil && ctx.Err() == nil {
			f.onDisconnect(ctx, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *TradeFeed) connect(ctx context.Context) (<-chan struct{}, error) {
	client := NewWSClient(f.wsURL, f.onTrade)
	dead, err := client.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := client.Subscribe(f.symbols); err != nil {
		client.Close()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-dead:
		}
	}()

	f.logger.Info("trade feed subscribed", slog.Int("symbols", len(f.symbols)))
	return dead, nil
}
