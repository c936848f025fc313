package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftwoodlabs/quantbot/internal/bus/mem"
	"github.com/driftwoodlabs/quantbot/internal/domain"
)

func agentTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRebalancer struct {
	err    error
	allocs []domain.TargetAllocation
}

func (s *stubRebalancer) Rebalance(_ context.Context, alloc domain.TargetAllocation) error {
	s.allocs = append(s.allocs, alloc)
	return s.err
}

func newTestAgent(bus domain.MetricsBus, rebal Rebalancer) *Agent {
	return New(Config{
		PollInterval: time.Minute,
		ClockRecheck: time.Minute,
		Ranker:       RankerConfig{TopN: 3, Weights: FactorWeights{VWAPChange: 1}, Temperature: 1},
	}, bus, nil, rebal, agentTestLogger())
}

func TestCycleDrainsFoldsAndRebalances(t *testing.T) {
	bus := mem.New()
	require.NoError(t, bus.Publish(context.Background(), result(100, 3, 30)))
	require.NoError(t, bus.Publish(context.Background(), result(102, 5, 50)))

	rebal := &stubRebalancer{}
	a := newTestAgent(bus, rebal)

	require.NoError(t, a.Cycle(context.Background()))

	require.Len(t, rebal.allocs, 1)
	st := a.store.Get("AAPL")
	require.NotNil(t, st)
	require.Equal(t, int64(2), st.Windows)
	require.InDelta(t, 102, st.Current.VWAP.Value, 1e-12, "last result wins")
}

func TestCycleEndHookSeesLatestResults(t *testing.T) {
	bus := mem.New()
	require.NoError(t, bus.Publish(context.Background(), result(101, 2, 20)))

	a := newTestAgent(bus, &stubRebalancer{})

	var seen map[string]domain.WindowResult
	a.OnCycleEnd(func(_ context.Context, latest map[string]domain.WindowResult) {
		seen = latest
	})

	require.NoError(t, a.Cycle(context.Background()))
	require.Len(t, seen, 1)
	require.InDelta(t, 101, seen["AAPL"].VWAP.Value, 1e-12)
}

func TestCycleEndHookSkippedOnRebalanceFailure(t *testing.T) {
	bus := mem.New()
	require.NoError(t, bus.Publish(context.Background(), result(101, 2, 20)))

	a := newTestAgent(bus, &stubRebalancer{err: errors.New("boom")})

	called := false
	a.OnCycleEnd(func(context.Context, map[string]domain.WindowResult) {
		called = true
	})

	require.Error(t, a.Cycle(context.Background()))
	require.False(t, called)
}

func TestCycleEndHookRunsWithoutRebalancer(t *testing.T) {
	bus := mem.New()
	require.NoError(t, bus.Publish(context.Background(), result(101, 2, 20)))

	a := newTestAgent(bus, nil)

	called := false
	a.OnCycleEnd(func(context.Context, map[string]domain.WindowResult) {
		called = true
	})

	require.NoError(t, a.Cycle(context.Background()))
	require.True(t, called)
}
