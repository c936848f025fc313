package agent

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// expClamp bounds the score fed into the exponential concentration
// transform so a single outlier cannot absorb the whole allocation.
const expClamp = 8.0

// FactorWeights are the fixed linear weights of the composite score. They
// come from configuration, never from the data.
type FactorWeights struct {
	VWAPChange float64
	JumpRatio  float64
	Activity   float64
}

// RankerConfig parameterizes ranking and allocation.
type RankerConfig struct {
	TopN    int
	Weights FactorWeights

	// Temperature divides composite scores before the exponential transform
	// into Dirichlet concentration parameters. Higher values flatten the
	// allocation toward equal weight.
	Temperature float64
}

// Ranker scores instruments each cycle and turns the top-N into target
// weights. All scoring is ephemeral; nothing is persisted between cycles.
type Ranker struct {
	cfg    RankerConfig
	logger *slog.Logger
}

// NewRanker creates a Ranker.
func NewRanker(cfg RankerConfig, logger *slog.Logger) *Ranker {
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	return &Ranker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ranker")),
	}
}

// Rank computes standardized factors and composite scores for every eligible
// instrument, sorted descending by composite with ties broken by symbol so
// the ordering is reproducible. An instrument is eligible when every raw
// factor is defined: current VWAP, previous-cycle VWAP, and jump ratio.
// Undefined metrics exclude the instrument for the cycle; they are never
// coerced to zero.
func (r *Ranker) Rank(states []*domain.NodeState) []domain.RankScore {
	type raw struct {
		symbol                 string
		vwapChange, jump, size float64
	}
	var rows []raw
	for _, st := range states {
		if st.Windows == 0 {
			continue
		}
		cur := st.Current
		if !cur.VWAP.Valid || !st.PrevVWAP.Valid || !cur.JumpRatio.Valid {
			continue
		}
		if st.PrevVWAP.Value == 0 {
			continue
		}
		rows = append(rows, raw{
			symbol:     st.Symbol,
			vwapChange: (cur.VWAP.Value - st.PrevVWAP.Value) / st.PrevVWAP.Value,
			jump:       cur.JumpRatio.Value,
			size:       float64(cur.TradeCount),
		})
	}
	if len(rows) == 0 {
		return nil
	}

	changes := make([]float64, len(rows))
	jumps := make([]float64, len(rows))
	sizes := make([]float64, len(rows))
	for i, row := range rows {
		changes[i] = row.vwapChange
		jumps[i] = row.jump
		sizes[i] = row.size
	}
	standardize(changes)
	standardize(jumps)
	standardize(sizes)

	w := r.cfg.Weights
	scores := make([]domain.RankScore, len(rows))
	for i, row := range rows {
		scores[i] = domain.RankScore{
			Symbol:     row.symbol,
			VWAPChange: changes[i],
			JumpRatio:  jumps[i],
			Activity:   sizes[i],
			Composite:  w.VWAPChange*changes[i] + w.JumpRatio*jumps[i] + w.Activity*sizes[i],
		}
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Composite != scores[j].Composite {
			return scores[i].Composite > scores[j].Composite
		}
		return scores[i].Symbol < scores[j].Symbol
	})
	return scores
}

// Allocate selects the top-N scores and maps them to target weights via the
// mean of a Dirichlet distribution whose concentration parameters are
// exp(composite/temperature), clamped to avoid overflow. The transform is
// deterministic: equal scores always produce equal weights, and weights sum
// to 1 by construction. Fewer than N eligible instruments selects all of
// them; none yields an empty allocation.
func (r *Ranker) Allocate(scores []domain.RankScore) domain.TargetAllocation {
	alloc := domain.TargetAllocation{
		CycleID:  uuid.New().String(),
		Computed: time.Now().UTC(),
		Weights:  map[string]float64{},
	}
	if len(scores) == 0 {
		return alloc
	}

	n := r.cfg.TopN
	if n <= 0 || n > len(scores) {
		n = len(scores)
	}
	selected := scores[:n]

	total := 0.0
	alphas := make([]float64, n)
	for i, sc := range selected {
		x := sc.Composite / r.cfg.Temperature
		if x > expClamp {
			x = expClamp
		} else if x < -expClamp {
			x = -expClamp
		}
		alphas[i] = math.Exp(x)
		total += alphas[i]
	}
	for i, sc := range selected {
		alloc.Weights[sc.Symbol] = alphas[i] / total
	}
	return alloc
}

// standardize rescales xs in place to zero mean and unit variance across the
// slice. A zero-variance slice standardizes to all zeros.
func standardize(xs []float64) {
	n := float64(len(xs))
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= n

	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= n

	if variance == 0 {
		for i := range xs {
			xs[i] = 0
		}
		return
	}
	sd := math.Sqrt(variance)
	for i := range xs {
		xs[i] = (xs[i] - mean) / sd
	}
}
