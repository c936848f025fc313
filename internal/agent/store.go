// Package agent implements the polling-cycle side of quantbot: the node
// state store that accumulates per-instrument window history, the ranking
// and allocation engine, and the cycle loop that drives rebalancing.
package agent

import (
	"sort"
	"time"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// StateStore is the instrument-keyed arena of NodeState records. It is owned
// by the agent's single cycle goroutine: no locking, no external writers.
// States are created on first observed WindowResult and never destroyed.
type StateStore struct {
	states map[string]*domain.NodeState
	now    func() time.Time
}

// NewStateStore creates an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]*domain.NodeState),
		now:    time.Now,
	}
}

// Fold applies all WindowResults drained for one instrument this cycle, in
// delivery order. The last result becomes Current while counts and
// cumulative aggregates reflect every result. The instrument's VWAP as of
// the previous cycle is preserved in PrevVWAP for the VWAP-change factor.
// Folding never rolls state back.
func (s *StateStore) Fold(symbol string, results []domain.WindowResult) *domain.NodeState {
	st, ok := s.states[symbol]
	if !ok {
		st = &domain.NodeState{Symbol: symbol}
		s.states[symbol] = st
	}
	if len(results) == 0 {
		return st
	}

	if st.Windows > 0 {
		st.PrevVWAP = st.Current.VWAP
	} else {
		st.PrevVWAP = domain.Undefined()
	}

	for _, r := range results {
		st.Windows++
		st.CumTrades += r.TradeCount
		st.CumVolume += r.Volume
		if r.VWAP.Valid {
			st.VWAPSum += r.VWAP.Value
			st.VWAPCount++
		}
		st.Current = r
	}
	st.LastUpdated = s.now()
	return st
}

// Get returns the state for symbol, or nil if the instrument has never been
// observed.
func (s *StateStore) Get(symbol string) *domain.NodeState {
	return s.states[symbol]
}

// All returns every NodeState sorted by symbol for deterministic iteration.
func (s *StateStore) All() []*domain.NodeState {
	out := make([]*domain.NodeState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of tracked instruments.
func (s *StateStore) Len() int {
	return len(s.states)
}

// CurrentResults returns the most recent WindowResult per instrument, used
// for portfolio-level risk aggregation.
func (s *StateStore) CurrentResults() map[string]domain.WindowResult {
	out := make(map[string]domain.WindowResult, len(s.states))
	for sym, st := range s.states {
		if st.Windows > 0 {
			out[sym] = st.Current
		}
	}
	return out
}
