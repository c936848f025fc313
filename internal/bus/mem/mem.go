// Package mem implements domain.MetricsBus with in-process buffers. It backs
// the single-binary "full" mode, where the aggregation engine and the agent
// share one process, and the test suites.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// Bus is an in-memory MetricsBus. Results are kept per instrument in publish
// order until drained.
type Bus struct {
	mu      sync.Mutex
	pending map[string][]domain.WindowResult
	seen    map[string]bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		pending: make(map[string][]domain.WindowResult),
		seen:    make(map[string]bool),
	}
}

// Publish appends result to its instrument's pending queue.
func (b *Bus) Publish(_ context.Context, result domain.WindowResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[result.Symbol] = append(b.pending[result.Symbol], result)
	b.seen[result.Symbol] = true
	return nil
}

// Instruments returns every instrument that has ever published, sorted for
// deterministic iteration.
func (b *Bus) Instruments(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	symbols := make([]string, 0, len(b.seen))
	for s := range b.seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Drain returns and clears all pending results for symbol in publish order.
func (b *Bus) Drain(_ context.Context, symbol string) ([]domain.WindowResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending[symbol]
	delete(b.pending, symbol)
	return out, nil
}

var _ domain.MetricsBus = (*Bus)(nil)
