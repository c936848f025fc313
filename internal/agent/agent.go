package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// Rebalancer drives the portfolio toward a target allocation.
type Rebalancer interface {
	Rebalance(ctx context.Context, alloc domain.TargetAllocation) error
}

// Config parameterizes the agent loop.
type Config struct {
	// PollInterval is the pause between cycles.
	PollInterval time.Duration

	// ClockRecheck caps how long the agent sleeps before re-asking the
	// broker whether the market has opened.
	ClockRecheck time.Duration

	Ranker RankerConfig
}

// Agent runs the decision loop: drain fresh window results from the bus,
// fold them into per-instrument state, rank, allocate, and hand the target
// allocation to the rebalancer. Cycles never overlap; the next cycle starts
// only after the previous one returns.
type Agent struct {
	cfg     Config
	bus     domain.MetricsBus
	store   *StateStore
	ranker  *Ranker
	broker  domain.Broker
	rebal   Rebalancer
	onCycle func(ctx context.Context, latest map[string]domain.WindowResult)
	logger  *slog.Logger
}

// New creates an Agent. broker may be nil when the agent runs without a
// trading leg, in which case cycles skip the market-hours wait and the
// rebalance step.
func New(cfg Config, bus domain.MetricsBus, broker domain.Broker, rebal Rebalancer, logger *slog.Logger) *Agent {
	logger = logger.With(slog.String("component", "agent"))
	return &Agent{
		cfg:    cfg,
		bus:    bus,
		store:  NewStateStore(),
		ranker: NewRanker(cfg.Ranker, logger),
		broker: broker,
		rebal:  rebal,
		logger: logger,
	}
}

// OnCycleEnd registers a hook invoked after every completed cycle with the
// latest window result per instrument, used for portfolio risk reporting.
// Must be set before Run.
func (a *Agent) OnCycleEnd(hook func(ctx context.Context, latest map[string]domain.WindowResult)) {
	a.onCycle = hook
}

// Run executes cycles until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent started",
		slog.Duration("poll_interval", a.cfg.PollInterval),
		slog.Int("top_n", a.cfg.Ranker.TopN))

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := a.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("cycle failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle runs one full decision cycle. If the market is closed the cycle
// waits for the next open before draining, so the fold sees every window
// published while the market was shut.
func (a *Agent) Cycle(ctx context.Context) error {
	if a.broker != nil {
		if err := a.waitForOpen(ctx); err != nil {
			return err
		}
	}

	if err := a.drain(ctx); err != nil {
		return fmt.Errorf("agent: drain: %w", err)
	}

	scores := a.ranker.Rank(a.store.All())
	alloc := a.ranker.Allocate(scores)
	a.logger.Info("allocation computed",
		slog.String("cycle_id", alloc.CycleID),
		slog.Int("eligible", len(scores)),
		slog.Int("selected", len(alloc.Weights)))

	if a.rebal != nil {
		if err := a.rebal.Rebalance(ctx, alloc); err != nil {
			return fmt.Errorf("agent: rebalance: %w", err)
		}
	}
	if a.onCycle != nil {
		a.onCycle(ctx, a.store.CurrentResults())
	}
	return nil
}

// drain pulls every queued window result for every known instrument and
// folds it into the state arena.
func (a *Agent) drain(ctx context.Context) error {
	symbols, err := a.bus.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("list instruments: %w", err)
	}
	folded := 0
	for _, sym := range symbols {
		results, err := a.bus.Drain(ctx, sym)
		if err != nil {
			return fmt.Errorf("drain %s: %w", sym, err)
		}
		a.store.Fold(sym, results)
		folded += len(results)
	}
	a.logger.Debug("drained window results",
		slog.Int("instruments", len(symbols)),
		slog.Int("results", folded))
	return nil
}

// waitForOpen blocks until the broker reports the market open, sleeping in
// bounded increments so a clock that moves the open earlier is noticed and
// ctx cancellation is honored promptly.
func (a *Agent) waitForOpen(ctx context.Context) error {
	for {
		clock, err := a.broker.Clock(ctx)
		if err != nil {
			return fmt.Errorf("agent: clock: %w", err)
		}
		if clock.IsOpen {
			return nil
		}

		wait := time.Until(clock.NextOpen)
		if wait <= 0 || wait > a.cfg.ClockRecheck {
			wait = a.cfg.ClockRecheck
		}
		a.logger.Info("market closed, waiting",
			slog.Time("next_open", clock.NextOpen),
			slog.Duration("sleep", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
