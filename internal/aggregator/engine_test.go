package aggregator

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/driftwoodlabs/quantbot/internal/bus/mem"
	"github.com/driftwoodlabs/quantbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func startEngine(t *testing.T, window time.Duration, bus domain.MetricsBus) (*Engine, context.CancelFunc) {
	t.Helper()
	eng := NewEngine(window, bus, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()
	// Wait until Run has marked the engine as started.
	deadline := time.Now().Add(time.Second)
	for {
		eng.mu.Lock()
		started := eng.ctx != nil
		eng.mu.Unlock()
		if started {
			return eng, cancel
		}
		if time.Now().After(deadline) {
			t.Fatal("engine did not start")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngineClosesWindowsOnTimer(t *testing.T) {
	bus := mem.New()
	eng, cancel := startEngine(t, 100*time.Millisecond, bus)
	defer cancel()
	ctx := context.Background()

	now := time.Now()
	if err := eng.Ingest(ctx, domain.TradeEvent{Symbol: "AAPL", Price: 100, Size: 10, Timestamp: now}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := eng.Ingest(ctx, domain.TradeEvent{Symbol: "AAPL", Price: 102, Size: 5, Timestamp: now}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var results []domain.WindowResult
	deadline := time.Now().Add(2 * time.Second)
	for len(results) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no window result emitted")
		}
		time.Sleep(20 * time.Millisecond)
		drained, err := bus.Drain(ctx, "AAPL")
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		results = append(results, drained...)
	}

	// All trades landed in one window; find it.
	var withTrades *domain.WindowResult
	for i := range results {
		if results[i].TradeCount > 0 {
			if withTrades != nil {
				t.Fatal("trades split across windows in a single burst")
			}
			withTrades = &results[i]
		}
	}
	if withTrades == nil {
		t.Fatal("no window carried the ingested trades")
	}
	if !withTrades.VWAP.Valid {
		t.Fatal("VWAP undefined for a window with trades")
	}
	want := (100.0*10 + 102.0*5) / 15.0
	if diff := withTrades.VWAP.Value - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("VWAP = %v, want %v", withTrades.VWAP.Value, want)
	}
}

func TestEngineEmitsEmptyWindowsWhenIdle(t *testing.T) {
	bus := mem.New()
	eng, cancel := startEngine(t, 80*time.Millisecond, bus)
	defer cancel()
	ctx := context.Background()

	// One event discovers the instrument; then the instrument goes idle.
	if err := eng.Ingest(ctx, domain.TradeEvent{Symbol: "MSFT", Price: 300, Size: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var empty int
	deadline := time.Now().Add(2 * time.Second)
	for empty == 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle instrument never closed an empty window")
		}
		time.Sleep(30 * time.Millisecond)
		drained, _ := bus.Drain(ctx, "MSFT")
		for _, r := range drained {
			if r.TradeCount == 0 {
				if r.VWAP.Valid || r.RV.Valid {
					t.Fatalf("empty window carries defined metrics: %+v", r)
				}
				empty++
			}
		}
	}
}

func TestEngineOneResultPerBoundary(t *testing.T) {
	bus := mem.New()
	eng, cancel := startEngine(t, 60*time.Millisecond, bus)
	defer cancel()
	ctx := context.Background()

	if err := eng.Ingest(ctx, domain.TradeEvent{Symbol: "NVDA", Price: 100, Size: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	time.Sleep(400 * time.Millisecond)

	drained, _ := bus.Drain(ctx, "NVDA")
	seen := make(map[time.Time]int)
	for _, r := range drained {
		seen[r.WindowEnd]++
	}
	for end, n := range seen {
		if n != 1 {
			t.Fatalf("window %v emitted %d times", end, n)
		}
	}
}

func TestEngineDynamicDiscovery(t *testing.T) {
	bus := mem.New()
	eng, cancel := startEngine(t, time.Minute, bus)
	defer cancel()
	ctx := context.Background()

	for _, sym := range []string{"AAPL", "MSFT", "TSLA"} {
		if err := eng.Ingest(ctx, domain.TradeEvent{Symbol: sym, Price: 10, Size: 1, Timestamp: time.Now()}); err != nil {
			t.Fatalf("ingest %s: %v", sym, err)
		}
	}
	if got := eng.InstrumentCount(); got != 3 {
		t.Fatalf("instrument count = %d, want 3", got)
	}
}

func TestEngineDropsMalformedEvents(t *testing.T) {
	bus := mem.New()
	eng, cancel := startEngine(t, time.Minute, bus)
	defer cancel()
	ctx := context.Background()

	bad := []domain.TradeEvent{
		{Symbol: "AAPL", Price: 0, Size: 1, Timestamp: time.Now()},
		{Symbol: "AAPL", Price: -5, Size: 1, Timestamp: time.Now()},
		{Symbol: "AAPL", Price: 10, Size: -1, Timestamp: time.Now()},
		{Symbol: "", Price: 10, Size: 1, Timestamp: time.Now()},
	}
	for _, ev := range bad {
		if err := eng.Ingest(ctx, ev); err != nil {
			t.Fatalf("malformed event must be dropped, not errored: %v", err)
		}
	}
	// Dropped events must not create workers.
	if got := eng.InstrumentCount(); got != 0 {
		t.Fatalf("instrument count = %d after only malformed events, want 0", got)
	}
}
