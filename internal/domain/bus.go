package domain

import "context"

// MetricsBus carries WindowResults from the aggregation engine to the agent.
// Delivery is ordered per instrument; ordering across instruments is not
// guaranteed. Implementations: Redis streams (cross-process, durable) and an
// in-process channel bus for single-binary deployments and tests.
type MetricsBus interface {
	// Publish appends result to its instrument's logical destination.
	Publish(ctx context.Context, result WindowResult) error

	// Instruments lists every instrument that has ever published, so
	// consumers can discover new instruments between cycles.
	Instruments(ctx context.Context) ([]string, error)

	// Drain returns all results for symbol published since the previous
	// Drain call, in publish order. It never blocks waiting for new data;
	// no pending results yields an empty slice.
	Drain(ctx context.Context, symbol string) ([]WindowResult, error)
}
