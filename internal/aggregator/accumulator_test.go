package aggregator

import (
	"math"
	"testing"
	"time"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

func trade(symbol string, price float64, size int64, ts time.Time) domain.TradeEvent {
	return domain.TradeEvent{Symbol: symbol, Price: price, Size: size, Timestamp: ts}
}

func TestAccumulatorTwoTrades(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	acc := NewAccumulator("AAPL", start)
	acc.Observe(trade("AAPL", 100, 10, start.Add(5*time.Second)))
	acc.Observe(trade("AAPL", 102, 5, start.Add(20*time.Second)))

	res := acc.Close(start.Add(time.Minute))

	wantVWAP := (100.0*10 + 102.0*5) / 15.0
	if !res.VWAP.Valid || math.Abs(res.VWAP.Value-wantVWAP) > 1e-9 {
		t.Fatalf("VWAP = %+v, want %v", res.VWAP, wantVWAP)
	}

	r := math.Log(102.0 / 100.0)
	if !res.RV.Valid || math.Abs(res.RV.Value-r*r) > 1e-12 {
		t.Fatalf("RV = %+v, want %v", res.RV, r*r)
	}
	// About 0.000392 for this pair.
	if math.Abs(res.RV.Value-0.000392) > 1e-6 {
		t.Fatalf("RV = %v, want ~0.000392", res.RV.Value)
	}

	// Fewer than 3 trades: BV and therefore the jump ratio are undefined.
	if res.BV.Valid {
		t.Fatalf("BV should be undefined with 2 trades, got %v", res.BV.Value)
	}
	if res.JumpRatio.Valid {
		t.Fatalf("jump ratio should be undefined with 2 trades, got %v", res.JumpRatio.Value)
	}
	if res.TradeCount != 2 || res.Volume != 15 {
		t.Fatalf("count/volume = %d/%d, want 2/15", res.TradeCount, res.Volume)
	}
}

func TestAccumulatorEmptyWindow(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	acc := NewAccumulator("MSFT", start)

	res := acc.Close(start.Add(time.Minute))

	if res.VWAP.Valid || res.RV.Valid || res.BV.Valid || res.JumpRatio.Valid {
		t.Fatalf("empty window must have all metrics undefined: %+v", res)
	}
	if res.TradeCount != 0 {
		t.Fatalf("trade count = %d, want 0", res.TradeCount)
	}
}

func TestAccumulatorZeroSizeTrades(t *testing.T) {
	start := time.Now().Truncate(time.Minute)
	acc := NewAccumulator("TSLA", start)
	acc.Observe(trade("TSLA", 200, 0, start))
	acc.Observe(trade("TSLA", 201, 0, start.Add(time.Second)))

	res := acc.Close(start.Add(time.Minute))

	// sum(size) == 0: VWAP undefined, not zero. Returns still accumulate.
	if res.VWAP.Valid {
		t.Fatalf("VWAP should be undefined when volume is zero, got %v", res.VWAP.Value)
	}
	if !res.RV.Valid {
		t.Fatal("RV should be defined for a window with trades")
	}
}

func TestAccumulatorVolatilityEstimators(t *testing.T) {
	start := time.Now().Truncate(time.Minute)
	acc := NewAccumulator("NVDA", start)
	prices := []float64{100, 101, 99.5, 100.2, 103}
	for i, p := range prices {
		acc.Observe(trade("NVDA", p, 1, start.Add(time.Duration(i)*time.Second)))
	}

	res := acc.Close(start.Add(time.Minute))

	if !res.RV.Valid || res.RV.Value < 0 {
		t.Fatalf("RV = %+v, want defined and >= 0", res.RV)
	}
	if !res.BV.Valid || res.BV.Value < 0 {
		t.Fatalf("BV = %+v, want defined and >= 0", res.BV)
	}
	if !res.JumpRatio.Valid {
		t.Fatal("jump ratio should be defined when RV > 0 and BV is defined")
	}
	if res.JumpRatio.Value > 1 {
		t.Fatalf("jump ratio = %v, must be <= 1", res.JumpRatio.Value)
	}

	// Cross-check RV against a direct computation.
	rv := 0.0
	for i := 1; i < len(prices); i++ {
		r := math.Log(prices[i] / prices[i-1])
		rv += r * r
	}
	if math.Abs(res.RV.Value-rv) > 1e-12 {
		t.Fatalf("RV = %v, want %v", res.RV.Value, rv)
	}
}

func TestAccumulatorSingleTrade(t *testing.T) {
	start := time.Now().Truncate(time.Minute)
	acc := NewAccumulator("AMD", start)
	acc.Observe(trade("AMD", 150, 3, start))

	res := acc.Close(start.Add(time.Minute))

	if !res.VWAP.Valid || res.VWAP.Value != 150 {
		t.Fatalf("VWAP = %+v, want 150", res.VWAP)
	}
	// One trade contributes no return sample: RV is an empty (zero) sum,
	// and the jump ratio is undefined because RV is zero.
	if !res.RV.Valid || res.RV.Value != 0 {
		t.Fatalf("RV = %+v, want defined 0", res.RV)
	}
	if res.JumpRatio.Valid {
		t.Fatal("jump ratio must be undefined when RV is zero")
	}
}

func TestAccumulatorReset(t *testing.T) {
	start := time.Now().Truncate(time.Minute)
	acc := NewAccumulator("GOOG", start)
	acc.Observe(trade("GOOG", 100, 1, start))
	acc.Observe(trade("GOOG", 105, 1, start.Add(time.Second)))
	_ = acc.Close(start.Add(time.Minute))
	acc.Reset(start.Add(time.Minute))

	res := acc.Close(start.Add(2 * time.Minute))
	if res.TradeCount != 0 || res.VWAP.Valid || res.RV.Valid {
		t.Fatalf("reset accumulator should produce an empty window, got %+v", res)
	}

	// Returns must not leak across the reset boundary either.
	acc.Reset(start.Add(2 * time.Minute))
	acc.Observe(trade("GOOG", 200, 1, start.Add(2*time.Minute)))
	res = acc.Close(start.Add(3 * time.Minute))
	if !res.RV.Valid || res.RV.Value != 0 {
		t.Fatalf("first trade after reset must contribute no return, RV = %+v", res.RV)
	}
}
