package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftwoodlabs/quantbot/internal/bus/mem"
	"github.com/driftwoodlabs/quantbot/internal/config"
	"github.com/driftwoodlabs/quantbot/internal/domain"
	"github.com/driftwoodlabs/quantbot/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubWindowStore struct {
	inserted []domain.WindowResult
	err      error
}

func (s *stubWindowStore) InsertBatch(_ context.Context, results []domain.WindowResult) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, results...)
	return nil
}

func (s *stubWindowStore) ListBySymbol(context.Context, string, int) ([]domain.WindowResult, error) {
	return nil, nil
}

func (s *stubWindowStore) ListBefore(context.Context, time.Time) ([]domain.WindowResult, error) {
	return nil, nil
}

func (s *stubWindowStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func windowResult(symbol string) domain.WindowResult {
	return domain.WindowResult{
		Symbol:     symbol,
		WindowEnd:  time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC),
		TradeCount: 3,
		Volume:     12,
		VWAP:       domain.Defined(101.5),
	}
}

func TestPersistingBusTeesIntoStore(t *testing.T) {
	store := &stubWindowStore{}
	inner := mem.New()
	bus := newPersistingBus(inner, store, testLogger())

	res := windowResult("AAPL")
	require.NoError(t, bus.Publish(context.Background(), res))

	require.Len(t, store.inserted, 1)
	require.Equal(t, "AAPL", store.inserted[0].Symbol)

	drained, err := bus.Drain(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, drained, 1)
}

func TestPersistingBusStoreFailureStillPublishes(t *testing.T) {
	store := &stubWindowStore{err: errors.New("db down")}
	inner := mem.New()
	bus := newPersistingBus(inner, store, testLogger())

	require.NoError(t, bus.Publish(context.Background(), windowResult("MSFT")))

	drained, err := inner.Drain(context.Background(), "MSFT")
	require.NoError(t, err)
	require.Len(t, drained, 1)
}

type stubRebalancer struct {
	err   error
	calls int
}

func (s *stubRebalancer) Rebalance(context.Context, domain.TargetAllocation) error {
	s.calls++
	return s.err
}

type countingSender struct {
	titles []string
}

func (s *countingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return nil
}

func (s *countingSender) Name() string { return "counting" }

func TestNotifyingRebalancerReportsOutcome(t *testing.T) {
	sender := &countingSender{}
	n := notify.NewNotifier([]notify.Sender{sender}, nil, testLogger())
	alloc := domain.TargetAllocation{CycleID: "c1", Weights: map[string]float64{"AAPL": 1}}

	inner := &stubRebalancer{}
	r := &notifyingRebalancer{inner: inner, notifier: n}
	require.NoError(t, r.Rebalance(context.Background(), alloc))
	require.Equal(t, 1, inner.calls)
	require.Len(t, sender.titles, 1)

	inner.err = errors.New("boom")
	require.Error(t, r.Rebalance(context.Background(), alloc))
	require.Len(t, sender.titles, 2)
}

func TestNotifyingRebalancerSilentOnMarketClosed(t *testing.T) {
	sender := &countingSender{}
	n := notify.NewNotifier([]notify.Sender{sender}, nil, testLogger())

	r := &notifyingRebalancer{
		inner:    &stubRebalancer{err: domain.ErrMarketClosed},
		notifier: n,
	}
	err := r.Rebalance(context.Background(), domain.TargetAllocation{CycleID: "c2"})
	require.ErrorIs(t, err, domain.ErrMarketClosed)
	require.Empty(t, sender.titles)
}

func TestBuildBrokerSelectsBackend(t *testing.T) {
	b, err := buildBroker(config.BrokerConfig{Env: "sim", SimCash: 50_000})
	require.NoError(t, err)
	require.NotNil(t, b)

	b, err = buildBroker(config.BrokerConfig{Env: "paper", KeyID: "k", Secret: "s"})
	require.NoError(t, err)
	require.NotNil(t, b)

	_, err = buildBroker(config.BrokerConfig{Env: "robinhood"})
	require.Error(t, err)
}
