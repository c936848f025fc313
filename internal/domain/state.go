package domain

import "time"

// NodeState is the agent-side accumulated history for one instrument. It is
// created on the first observed WindowResult, updated monotonically on every
// subsequent one, and never destroyed while the process runs. The agent's
// single cycle goroutine is the only writer.
type NodeState struct {
	Symbol string

	// Current is the most recent WindowResult folded in.
	Current WindowResult

	// PrevVWAP is the VWAP the instrument carried at the end of the previous
	// polling cycle, used for the VWAP-change factor. Undefined until the
	// instrument has survived one full cycle with a defined VWAP.
	PrevVWAP Metric

	// Windows counts every WindowResult ever folded, including ones
	// superseded within a single cycle.
	Windows int64

	// CumTrades and CumVolume aggregate across all folded results.
	CumTrades int64
	CumVolume int64

	// VWAPSum accumulates defined VWAP observations for long-run averages;
	// VWAPCount is how many contributed.
	VWAPSum   float64
	VWAPCount int64

	LastUpdated time.Time
}

// MeanVWAP returns the long-run average of defined VWAP observations.
func (s *NodeState) MeanVWAP() Metric {
	if s.VWAPCount == 0 {
		return Undefined()
	}
	return Defined(s.VWAPSum / float64(s.VWAPCount))
}

// RankScore is the per-cycle, ephemeral scoring record for one instrument.
type RankScore struct {
	Symbol     string
	VWAPChange float64 // standardized
	JumpRatio  float64 // standardized
	Activity   float64 // standardized trade-count factor
	Composite  float64
}

// TargetAllocation maps selected instruments to target portfolio weights.
// Weights are non-negative and sum to 1 over the selected set; an empty
// allocation means "hold current positions".
type TargetAllocation struct {
	CycleID  string
	Computed time.Time
	Weights  map[string]float64
}

// Empty reports whether the allocation selects no instruments.
func (a TargetAllocation) Empty() bool {
	return len(a.Weights) == 0
}
