// Package rebalance turns a target allocation into broker orders. The
// cardinal rule is cancel-before-submit: no new order for an instrument is
// placed while an older one might still be live, so stale orders can never
// race fresh ones.
package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/driftwoodlabs/quantbot/internal/broker"
	"github.com/driftwoodlabs/quantbot/internal/domain"
	"github.com/driftwoodlabs/quantbot/internal/portfolio"
)

// Config parameterizes the rebalancer.
type Config struct {
	// DeployFraction is the fraction of account equity spread across the
	// allocation. The remainder stays in cash.
	DeployFraction float64

	// AllowShort permits orders that take a position below zero. When false
	// a sell is clamped so the position bottoms out flat.
	AllowShort bool

	// SyncBeforeCycle replaces the local book with broker positions at the
	// start of every cycle.
	SyncBeforeCycle bool

	// MinOrderQty is the smallest absolute delta worth submitting. Broker
	// positions can be fractional while targets are integral; without a
	// threshold the residue becomes a dust order every cycle.
	MinOrderQty float64

	// ReadRetries and ReadBackoff bound retries of idempotent broker reads.
	// Mutations are never retried.
	ReadRetries int
	ReadBackoff time.Duration
}

// Rebalancer reconciles the held portfolio with a target allocation. At most
// one cycle runs at a time; a second call while one is in flight fails fast.
type Rebalancer struct {
	cfg       Config
	broker    domain.Broker
	book      *portfolio.Portfolio
	decisions domain.DecisionStore
	logger    *slog.Logger
	busy      atomic.Bool
}

// New creates a Rebalancer. decisions may be nil when audit persistence is
// disabled.
func New(cfg Config, b domain.Broker, book *portfolio.Portfolio, decisions domain.DecisionStore, logger *slog.Logger) *Rebalancer {
	if cfg.ReadRetries < 1 {
		cfg.ReadRetries = 3
	}
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = 500 * time.Millisecond
	}
	if cfg.MinOrderQty <= 0 {
		cfg.MinOrderQty = 1
	}
	return &Rebalancer{
		cfg:       cfg,
		broker:    b,
		book:      book,
		decisions: decisions,
		logger:    logger.With(slog.String("component", "rebalancer")),
	}
}

// Rebalance drives the book toward alloc. Instruments whose open orders
// could not all be cancelled are skipped for the cycle and retried on the
// next one. An empty allocation holds current positions untouched. Returns
// domain.ErrMarketClosed without placing or cancelling anything when the
// market is shut.
func (r *Rebalancer) Rebalance(ctx context.Context, alloc domain.TargetAllocation) error {
	if !r.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("rebalance: cycle already in flight")
	}
	defer r.busy.Store(false)

	clock, err := broker.Retry(ctx, r.cfg.ReadRetries, r.cfg.ReadBackoff,
		func(ctx context.Context) (domain.MarketClock, error) { return r.broker.Clock(ctx) })
	if err != nil {
		return fmt.Errorf("rebalance: clock: %w", err)
	}
	if !clock.IsOpen {
		r.logger.Info("market closed, deferring cycle",
			slog.String("cycle_id", alloc.CycleID),
			slog.Time("next_open", clock.NextOpen))
		return domain.ErrMarketClosed
	}

	if alloc.Empty() {
		r.logger.Info("empty allocation, holding positions", slog.String("cycle_id", alloc.CycleID))
		return nil
	}

	if r.cfg.SyncBeforeCycle {
		if err := r.book.Sync(ctx, r.broker); err != nil {
			return fmt.Errorf("rebalance: %w", err)
		}
	}

	equity, err := broker.Retry(ctx, r.cfg.ReadRetries, r.cfg.ReadBackoff,
		func(ctx context.Context) (float64, error) { return r.broker.Equity(ctx) })
	if err != nil {
		return fmt.Errorf("rebalance: equity: %w", err)
	}
	deploy := equity * r.cfg.DeployFraction

	universe := r.universe(alloc)
	blocked := r.cancelPhase(ctx, universe, alloc.CycleID)
	decisions := r.submitPhase(ctx, universe, alloc, deploy, blocked)

	if r.decisions != nil && len(decisions) > 0 {
		if err := r.decisions.InsertBatch(ctx, decisions); err != nil {
			r.logger.Error("failed to persist decisions",
				slog.String("cycle_id", alloc.CycleID),
				slog.String("error", err.Error()))
		}
	}

	r.logger.Info("cycle complete",
		slog.String("cycle_id", alloc.CycleID),
		slog.Float64("equity", equity),
		slog.Float64("deployed", deploy),
		slog.Int("instruments", len(universe)),
		slog.Int("blocked", len(blocked)))
	return nil
}

// universe is every symbol either held or targeted, sorted for deterministic
// order processing.
func (r *Rebalancer) universe(alloc domain.TargetAllocation) []string {
	set := make(map[string]struct{}, len(alloc.Weights))
	for sym := range alloc.Weights {
		set[sym] = struct{}{}
	}
	for _, a := range r.book.Assets() {
		set[a.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// cancelPhase cancels every open order across the universe. Cancellation is
// a mutation and is never retried; any failure marks the symbol blocked so
// the submit phase leaves it alone this cycle.
func (r *Rebalancer) cancelPhase(ctx context.Context, universe []string, cycleID string) map[string]bool {
	blocked := make(map[string]bool)
	for _, sym := range universe {
		open, err := broker.Retry(ctx, r.cfg.ReadRetries, r.cfg.ReadBackoff,
			func(ctx context.Context) ([]domain.Order, error) { return r.broker.OpenOrders(ctx, sym) })
		if err != nil {
			r.logger.Warn("open-order lookup failed, blocking symbol",
				slog.String("cycle_id", cycleID),
				slog.String("symbol", sym),
				slog.String("error", err.Error()))
			blocked[sym] = true
			continue
		}
		for _, ord := range open {
			if err := r.broker.CancelOrder(ctx, ord.ID); err != nil {
				r.logger.Warn("cancel failed, blocking symbol",
					slog.String("cycle_id", cycleID),
					slog.String("symbol", sym),
					slog.String("order_id", ord.ID),
					slog.String("error", err.Error()))
				blocked[sym] = true
				break
			}
		}
	}
	return blocked
}

// submitPhase computes the target quantity for every symbol in the universe
// and submits one order per symbol whose position must change. Submissions
// are never retried.
func (r *Rebalancer) submitPhase(ctx context.Context, universe []string, alloc domain.TargetAllocation, deploy float64, blocked map[string]bool) []domain.RebalanceDecision {
	decisions := make([]domain.RebalanceDecision, 0, len(universe))
	for _, sym := range universe {
		weight := alloc.Weights[sym]
		held := r.book.SignedQuantity(sym)
		d := domain.RebalanceDecision{
			ID:           uuid.New().String(),
			CycleID:      alloc.CycleID,
			Symbol:       sym,
			TargetWeight: weight,
			HeldQty:      held,
			DecidedAt:    time.Now().UTC(),
		}

		if blocked[sym] {
			d.Skipped = true
			d.Reason = "cancel_failed"
			decisions = append(decisions, d)
			continue
		}

		var target float64
		if weight > 0 {
			price, err := broker.Retry(ctx, r.cfg.ReadRetries, r.cfg.ReadBackoff,
				func(ctx context.Context) (float64, error) { return r.broker.LatestPrice(ctx, sym) })
			if err != nil || price <= 0 {
				d.Skipped = true
				d.Reason = "no_price"
				decisions = append(decisions, d)
				r.logger.Warn("price lookup failed, skipping symbol",
					slog.String("cycle_id", alloc.CycleID),
					slog.String("symbol", sym))
				continue
			}
			target = math.Floor(weight * deploy / price)
		}
		d.TargetQty = target

		delta := target - held
		if !r.cfg.AllowShort && held+delta < 0 {
			delta = -held
		}
		if math.Abs(delta) < r.cfg.MinOrderQty {
			d.Skipped = true
			d.Reason = "at_target"
			decisions = append(decisions, d)
			continue
		}

		req := domain.OrderRequest{
			Symbol:        sym,
			Side:          domain.OrderSideBuy,
			Quantity:      delta,
			ClientOrderID: uuid.New().String(),
		}
		if delta < 0 {
			req.Side = domain.OrderSideSell
			req.Quantity = -delta
		}
		ord, err := r.broker.SubmitOrder(ctx, req)
		if err != nil {
			d.Skipped = true
			d.Reason = "submit_failed"
			decisions = append(decisions, d)
			r.logger.Error("order submission failed",
				slog.String("cycle_id", alloc.CycleID),
				slog.String("symbol", sym),
				slog.String("error", err.Error()))
			continue
		}

		// Market orders are treated as filled for the local book; the next
		// broker sync reconciles any partial fill.
		r.book.Apply(sym, delta)
		d.OrderID = ord.ID
		decisions = append(decisions, d)
		r.logger.Info("order submitted",
			slog.String("cycle_id", alloc.CycleID),
			slog.String("symbol", sym),
			slog.String("side", string(req.Side)),
			slog.Float64("quantity", req.Quantity),
			slog.String("order_id", ord.ID))
	}
	return decisions
}
