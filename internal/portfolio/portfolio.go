// Package portfolio tracks the assets the bot believes it holds and derives
// portfolio-level risk from the latest per-instrument window metrics.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// Portfolio is the in-memory book of held assets, keyed by symbol. Holdings
// are a local view; Sync replaces it with the broker's truth.
type Portfolio struct {
	mu     sync.RWMutex
	assets map[string]*domain.Asset
	logger *slog.Logger
	now    func() time.Time
}

// New creates an empty Portfolio.
func New(logger *slog.Logger) *Portfolio {
	return &Portfolio{
		assets: make(map[string]*domain.Asset),
		logger: logger.With(slog.String("component", "portfolio")),
		now:    time.Now,
	}
}

// Apply adjusts the signed quantity held for symbol by delta. A position
// crossing through zero flips side; a position landing exactly on zero is
// removed from the book.
func (p *Portfolio) Apply(symbol string, delta float64) {
	if delta == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	signed := delta
	if a, ok := p.assets[symbol]; ok {
		signed += a.SignedQuantity()
	}
	p.setLocked(symbol, signed)
}

// SetSigned pins symbol's position to the given signed quantity.
func (p *Portfolio) SetSigned(symbol string, signed float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setLocked(symbol, signed)
}

func (p *Portfolio) setLocked(symbol string, signed float64) {
	if signed == 0 {
		delete(p.assets, symbol)
		return
	}
	side := domain.AssetSideLong
	qty := signed
	if signed < 0 {
		side = domain.AssetSideShort
		qty = -signed
	}
	p.assets[symbol] = &domain.Asset{
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		UpdatedAt: p.now(),
	}
}

// Sync replaces the local book with the broker's open positions.
func (p *Portfolio) Sync(ctx context.Context, broker domain.Broker) error {
	positions, err := broker.Positions(ctx)
	if err != nil {
		return fmt.Errorf("portfolio: sync: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.assets = make(map[string]*domain.Asset, len(positions))
	for _, pos := range positions {
		p.setLocked(pos.Symbol, pos.Quantity)
	}
	p.logger.Info("portfolio synced from broker", slog.Int("positions", len(positions)))
	return nil
}

// SignedQuantity returns the signed position for symbol, zero if not held.
func (p *Portfolio) SignedQuantity(symbol string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if a, ok := p.assets[symbol]; ok {
		return a.SignedQuantity()
	}
	return 0
}

// Assets returns a snapshot of held assets sorted by symbol.
func (p *Portfolio) Assets() []domain.Asset {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Asset, 0, len(p.assets))
	for _, a := range p.assets {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of held assets.
func (p *Portfolio) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.assets)
}

// Risk is the notional-weighted aggregate of the latest window metrics over
// held assets. Each component is undefined when no held asset contributed a
// defined value for it.
type Risk struct {
	RV        domain.Metric `json:"realized_variance"`
	BV        domain.Metric `json:"bipower_variation"`
	JumpRatio domain.Metric `json:"jump_ratio"`
	Notional  float64       `json:"notional"`
	Assets    int           `json:"assets"`
}

// RiskMetrics aggregates latest per-instrument metrics into portfolio risk.
// Weights are each asset's absolute notional, |quantity| times the latest
// VWAP. Assets whose latest window lacks a defined VWAP carry no measurable
// notional and are skipped. For each metric the undefined contributors are
// excluded and the remaining weights renormalized, so an undefined jump
// ratio on one instrument cannot drag the aggregate toward zero.
func (p *Portfolio) RiskMetrics(latest map[string]domain.WindowResult) Risk {
	p.mu.RLock()
	defer p.mu.RUnlock()

	risk := Risk{
		RV:        domain.Undefined(),
		BV:        domain.Undefined(),
		JumpRatio: domain.Undefined(),
		Assets:    len(p.assets),
	}

	var rvSum, rvWeight float64
	var bvSum, bvWeight float64
	var jumpSum, jumpWeight float64
	for sym, a := range p.assets {
		r, ok := latest[sym]
		if !ok || !r.VWAP.Valid {
			continue
		}
		notional := math.Abs(a.SignedQuantity()) * r.VWAP.Value
		risk.Notional += notional
		if r.RV.Valid {
			rvSum += notional * r.RV.Value
			rvWeight += notional
		}
		if r.BV.Valid {
			bvSum += notional * r.BV.Value
			bvWeight += notional
		}
		if r.JumpRatio.Valid {
			jumpSum += notional * r.JumpRatio.Value
			jumpWeight += notional
		}
	}
	if rvWeight > 0 {
		risk.RV = domain.Defined(rvSum / rvWeight)
	}
	if bvWeight > 0 {
		risk.BV = domain.Defined(bvSum / bvWeight)
	}
	if jumpWeight > 0 {
		risk.JumpRatio = domain.Defined(jumpSum / jumpWeight)
	}
	return risk
}
