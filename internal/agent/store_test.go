package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

func result(vwap float64, trades, volume int64) domain.WindowResult {
	return domain.WindowResult{
		Symbol:     "AAPL",
		WindowEnd:  time.Now().UTC(),
		VWAP:       domain.Defined(vwap),
		RV:         domain.Defined(0.0001),
		TradeCount: trades,
		Volume:     volume,
	}
}

func TestFoldCreatesStateOnFirstSight(t *testing.T) {
	s := NewStateStore()
	st := s.Fold("AAPL", []domain.WindowResult{result(100, 3, 30)})

	require.Equal(t, "AAPL", st.Symbol)
	require.Equal(t, int64(1), st.Windows)
	require.Equal(t, int64(3), st.CumTrades)
	require.Equal(t, int64(30), st.CumVolume)
	require.True(t, st.Current.VWAP.Valid)
	require.False(t, st.PrevVWAP.Valid, "no previous cycle yet")
}

func TestFoldLastResultWinsCountsReflectAll(t *testing.T) {
	s := NewStateStore()
	s.Fold("AAPL", []domain.WindowResult{result(100, 2, 20)})
	st := s.Fold("AAPL", []domain.WindowResult{
		result(101, 1, 10),
		result(102, 4, 40),
		result(103, 2, 20),
	})

	require.Equal(t, int64(4), st.Windows)
	require.Equal(t, int64(9), st.CumTrades)
	require.Equal(t, int64(90), st.CumVolume)
	require.InDelta(t, 103, st.Current.VWAP.Value, 1e-12)
	require.True(t, st.PrevVWAP.Valid)
	require.InDelta(t, 100, st.PrevVWAP.Value, 1e-12, "PrevVWAP is last cycle's VWAP, not last window's")
}

func TestFoldEmptyDrainIsNoOp(t *testing.T) {
	s := NewStateStore()
	s.Fold("AAPL", []domain.WindowResult{result(100, 2, 20)})
	st := s.Fold("AAPL", nil)

	require.Equal(t, int64(1), st.Windows)
	require.InDelta(t, 100, st.Current.VWAP.Value, 1e-12)
	require.False(t, st.PrevVWAP.Valid, "empty drain must not rotate PrevVWAP")
}

func TestFoldUndefinedVWAPSkipsMean(t *testing.T) {
	s := NewStateStore()
	empty := domain.WindowResult{Symbol: "AAPL", VWAP: domain.Undefined(), RV: domain.Undefined()}
	s.Fold("AAPL", []domain.WindowResult{result(100, 1, 10), empty})

	st := s.Get("AAPL")
	require.Equal(t, int64(2), st.Windows)
	mean := st.MeanVWAP()
	require.True(t, mean.Valid)
	require.InDelta(t, 100, mean.Value, 1e-12)
}

func TestAllSortedBySymbol(t *testing.T) {
	s := NewStateStore()
	for _, sym := range []string{"MSFT", "AAPL", "GOOG"} {
		s.Fold(sym, []domain.WindowResult{result(10, 1, 1)})
	}
	all := s.All()
	require.Len(t, all, 3)
	require.Equal(t, "AAPL", all[0].Symbol)
	require.Equal(t, "GOOG", all[1].Symbol)
	require.Equal(t, "MSFT", all[2].Symbol)
}

func TestCurrentResultsExcludesNeverFolded(t *testing.T) {
	s := NewStateStore()
	s.Fold("AAPL", []domain.WindowResult{result(100, 1, 10)})
	s.Fold("MSFT", nil)

	cur := s.CurrentResults()
	require.Len(t, cur, 1)
	_, ok := cur["AAPL"]
	require.True(t, ok)
}
