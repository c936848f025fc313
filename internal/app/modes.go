package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftwoodlabs/quantbot/internal/agent"
	"github.com/driftwoodlabs/quantbot/internal/aggregator"
	"github.com/driftwoodlabs/quantbot/internal/domain"
	"github.com/driftwoodlabs/quantbot/internal/feed"
	"github.com/driftwoodlabs/quantbot/internal/notify"
	"github.com/driftwoodlabs/quantbot/internal/portfolio"
	"github.com/driftwoodlabs/quantbot/internal/rebalance"
)

// AggregateMode runs the ingestion half: the trade feed and the aggregation
// engine, publishing closed windows to the metrics bus (and Postgres when
// enabled) for a separate agent process to consume.
func (a *App) AggregateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting aggregate mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAggregation(ctx, g, deps)
	return g.Wait()
}

// AgentMode runs the decision half: drains window results from the bus,
// ranks, allocates, and rebalances through the broker. Requires the Redis bus
// so it can see windows published by a separate aggregate process.
func (a *App) AgentMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting agent mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAgent(ctx, g, deps)
	return g.Wait()
}

// FullMode runs ingestion and decision loops in one process. Without Redis
// the two halves share the in-memory bus.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAggregation(ctx, g, deps)
	a.startAgent(ctx, g, deps)
	return g.Wait()
}

// startAggregation wires feed -> engine -> bus into the group.
func (a *App) startAggregation(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	bus := deps.Bus
	if deps.Windows != nil {
		bus = newPersistingBus(bus, deps.Windows, a.logger)
	}

	engine := aggregator.NewEngine(a.cfg.Window.Length.Duration, bus, a.logger)
	engine.SetBufferSize(a.cfg.Window.BufferSize)
	g.Go(func() error {
		return engine.Run(ctx)
	})

	tradeFeed := feed.NewTradeFeed(
		a.cfg.Feed.WsURL,
		a.cfg.Feed.Symbols,
		func(ctx context.Context, ev domain.TradeEvent) {
			if err := engine.Ingest(ctx, ev); err != nil && ctx.Err() == nil {
				a.logger.WarnContext(ctx, "trade ingest failed",
					slog.String("symbol", ev.Symbol),
					slog.String("error", err.Error()),
				)
			}
		},
		a.logger,
	)
	tradeFeed.OnDisconnect(func(ctx context.Context, backoff time.Duration) {
		_ = deps.Notifier.FeedDisconnected(ctx, backoff)
	})
	g.Go(func() error {
		return tradeFeed.Run(ctx)
	})
}

// startAgent wires bus -> agent -> rebalancer -> broker into the group, plus
// the archival sweep when S3 and Postgres are both available.
func (a *App) startAgent(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	book := portfolio.New(a.logger)
	rebal := rebalance.New(rebalance.Config{
		DeployFraction:  a.cfg.Agent.DeployFraction,
		AllowShort:      a.cfg.Agent.AllowShort,
		MinOrderQty:     a.cfg.Agent.MinOrderQty,
		SyncBeforeCycle: a.cfg.Agent.SyncBeforeCycle,
		ReadRetries:     a.cfg.Broker.ReadRetries,
		ReadBackoff:     a.cfg.Broker.ReadBackoff.Duration,
	}, deps.Broker, book, deps.Decisions, a.logger)

	agt := agent.New(agent.Config{
		PollInterval: a.cfg.Agent.PollInterval.Duration,
		ClockRecheck: a.cfg.Agent.ClockRecheck.Duration,
		Ranker: agent.RankerConfig{
			TopN: a.cfg.Agent.TopN,
			Weights: agent.FactorWeights{
				VWAPChange: a.cfg.Agent.WeightVWAPChange,
				JumpRatio:  a.cfg.Agent.WeightJumpRatio,
				Activity:   a.cfg.Agent.WeightActivity,
			},
			Temperature: a.cfg.Agent.Temperature,
		},
	}, deps.Bus, deps.Broker, &notifyingRebalancer{
		inner:    rebal,
		notifier: deps.Notifier,
	}, a.logger)
	agt.OnCycleEnd(func(ctx context.Context, latest map[string]domain.WindowResult) {
		risk := book.RiskMetrics(latest)
		a.logger.InfoContext(ctx, "portfolio risk",
			slog.Int("assets", risk.Assets),
			slog.Float64("notional", risk.Notional),
			slog.String("rv", risk.RV.String()),
			slog.String("bv", risk.BV.String()),
			slog.String("jump_ratio", risk.JumpRatio.String()),
		)
	})
	g.Go(func() error {
		return agt.Run(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}
}

// notifyingRebalancer reports cycle outcomes through the notifier. A closed
// market is a deferral, not a failure, and produces no notification.
type notifyingRebalancer struct {
	inner    agent.Rebalancer
	notifier *notify.Notifier
}

func (n *notifyingRebalancer) Rebalance(ctx context.Context, alloc domain.TargetAllocation) error {
	err := n.inner.Rebalance(ctx, alloc)
	switch {
	case err == nil:
		_ = n.notifier.RebalanceComplete(ctx, alloc.CycleID, len(alloc.Weights))
	case errors.Is(err, domain.ErrMarketClosed):
	case ctx.Err() == nil:
		_ = n.notifier.BrokerError(ctx, "rebalance", err)
	}
	return err
}

// archiveLoop periodically moves rows older than the retention horizon from
// Postgres to object storage.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		cutoff := time.Now().Add(-retention)
		if err := deps.Archiver.Archive(ctx, cutoff); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.ErrorContext(ctx, "archive sweep failed",
				slog.Time("cutoff", cutoff),
				slog.String("error", err.Error()),
			)
			continue
		}
		_ = deps.Notifier.ArchiveComplete(ctx, cutoff)
	}
}

// persistingBus tees every published window result into Postgres before
// handing it to the wrapped bus. A store failure is logged but does not block
// the bus; the agent side stays live even when the database is down.
type persistingBus struct {
	inner   domain.MetricsBus
	windows domain.WindowStore
	logger  *slog.Logger
}

func newPersistingBus(inner domain.MetricsBus, windows domain.WindowStore, logger *slog.Logger) *persistingBus {
	return &persistingBus{
		inner:   inner,
		windows: windows,
		logger:  logger.With(slog.String("component", "persisting_bus")),
	}
}

var _ domain.MetricsBus = (*persistingBus)(nil)

func (b *persistingBus) Publish(ctx context.Context, result domain.WindowResult) error {
	if err := b.windows.InsertBatch(ctx, []domain.WindowResult{result}); err != nil {
		b.logger.ErrorContext(ctx, "window result persist failed",
			slog.String("symbol", result.Symbol),
			slog.Time("window_end", result.WindowEnd),
			slog.String("error", err.Error()),
		)
	}
	return b.inner.Publish(ctx, result)
}

func (b *persistingBus) Instruments(ctx context.Context) ([]string, error) {
	return b.inner.Instruments(ctx)
}

func (b *persistingBus) Drain(ctx context.Context, symbol string) ([]domain.WindowResult, error) {
	return b.inner.Drain(ctx, symbol)
}
