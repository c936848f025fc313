// Package aggregator implements the keyed, windowed aggregation engine that
// reduces raw trade events into per-instrument window metrics: VWAP,
// realized variance, bipower variation, and the jump ratio derived from them.
package aggregator

import (
	"math"
	"time"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// bvScale is the bipower variation scaling constant (pi/2), which makes BV
// comparable to RV under a continuous price path.
const bvScale = math.Pi / 2

// Accumulator holds the in-progress window state for one instrument. It is
// owned exclusively by that instrument's worker; no concurrent access.
type Accumulator struct {
	symbol      string
	windowStart time.Time

	sumPriceVol float64 // sum(price * size)
	sumSize     int64
	count       int64
	lastPrice   float64
	returns     []float64 // log-returns between consecutive trades in this window
}

// NewAccumulator creates an empty accumulator for symbol with the given
// window start.
func NewAccumulator(symbol string, start time.Time) *Accumulator {
	return &Accumulator{symbol: symbol, windowStart: start}
}

// Observe folds one trade into the open window. The first trade of a window
// contributes no return sample; subsequent trades contribute
// ln(price_i / price_{i-1}).
func (a *Accumulator) Observe(ev domain.TradeEvent) {
	a.sumPriceVol += ev.Notional()
	a.sumSize += ev.Size
	if a.count > 0 {
		a.returns = append(a.returns, math.Log(ev.Price/a.lastPrice))
	}
	a.count++
	a.lastPrice = ev.Price
}

// Count returns the number of trades observed in the open window.
func (a *Accumulator) Count() int64 {
	return a.count
}

// Close computes the window's metrics and returns the immutable result.
// The accumulator is left untouched; call Reset to start the next window.
func (a *Accumulator) Close(windowEnd time.Time) domain.WindowResult {
	res := domain.WindowResult{
		Symbol:     a.symbol,
		WindowEnd:  windowEnd,
		TradeCount: a.count,
		Volume:     a.sumSize,
	}

	if a.sumSize > 0 {
		res.VWAP = domain.Defined(a.sumPriceVol / float64(a.sumSize))
	}

	// RV is the sum of squared log-returns. A window with at least one trade
	// has a defined (possibly zero) RV; an empty window has no data at all.
	if a.count > 0 {
		rv := 0.0
		for _, r := range a.returns {
			rv += r * r
		}
		res.RV = domain.Defined(rv)
	}

	// BV needs at least two return samples, i.e. three trades. The n/(n-1)
	// factor is the usual small-sample correction.
	if n := len(a.returns); n >= 2 {
		bv := 0.0
		for i := 1; i < n; i++ {
			bv += math.Abs(a.returns[i]) * math.Abs(a.returns[i-1])
		}
		bv *= bvScale * float64(n) / float64(n-1)
		res.BV = domain.Defined(bv)
	}

	if res.RV.Valid && res.RV.Value > 0 && res.BV.Valid {
		res.JumpRatio = domain.Defined((res.RV.Value - res.BV.Value) / res.RV.Value)
	}

	return res
}

// Reset clears all window state and starts a fresh window at start.
func (a *Accumulator) Reset(start time.Time) {
	a.windowStart = start
	a.sumPriceVol = 0
	a.sumSize = 0
	a.count = 0
	a.lastPrice = 0
	a.returns = a.returns[:0]
}
