package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

const (
	// streamMaxLen bounds each instrument stream via XADD MAXLEN ~. An agent
	// that falls further behind than this loses the oldest windows.
	streamMaxLen int64 = 10000

	instrumentsKey = "windows:instruments"
	cursorsKey     = "windows:cursors"
	payloadField   = "result"
)

// MetricsBus implements domain.MetricsBus on Redis streams. Each instrument
// gets its own stream, so per-instrument FIFO order is the stream order.
// Drain positions are persisted in a Redis hash, which makes delivery resume
// where it left off across agent restarts.
type MetricsBus struct {
	rdb *redis.Client

	mu      sync.Mutex
	cursors map[string]string
}

var _ domain.MetricsBus = (*MetricsBus)(nil)

// NewMetricsBus creates a MetricsBus backed by the given Client.
func NewMetricsBus(c *Client) *MetricsBus {
	return &MetricsBus{
		rdb:     c.rdb,
		cursors: make(map[string]string),
	}
}

func streamKey(symbol string) string {
	return "windows:" + symbol
}

// Publish appends one window result to its instrument's stream and registers
// the instrument.
func (b *MetricsBus) Publish(ctx context.Context, result domain.WindowResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("redis: marshal window result: %w", err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(result.Symbol),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	})
	pipe.SAdd(ctx, instrumentsKey, result.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish window %s: %w", result.Symbol, err)
	}
	return nil
}

// Instruments returns every symbol that has ever published, sorted.
func (b *MetricsBus) Instruments(ctx context.Context) ([]string, error) {
	symbols, err := b.rdb.SMembers(ctx, instrumentsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list instruments: %w", err)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Drain returns every window result appended to symbol's stream since the
// previous drain, in stream order, without blocking when the stream is
// empty. The consumed position is committed to Redis after a successful
// read, so results are delivered at least once across restarts.
func (b *MetricsBus) Drain(ctx context.Context, symbol string) ([]domain.WindowResult, error) {
	cursor, err := b.cursor(ctx, symbol)
	if err != nil {
		return nil, err
	}

	start := "-"
	if cursor != "" {
		start = "(" + cursor
	}
	entries, err := b.rdb.XRange(ctx, streamKey(symbol), start, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("redis: drain %s: %w", symbol, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	results := make([]domain.WindowResult, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values[payloadField].(string)
		if !ok {
			return nil, fmt.Errorf("redis: stream %s entry %s has no %s field", symbol, entry.ID, payloadField)
		}
		var r domain.WindowResult
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("redis: decode window %s: %w", entry.ID, err)
		}
		results = append(results, r)
	}

	last := entries[len(entries)-1].ID
	if err := b.rdb.HSet(ctx, cursorsKey, symbol, last).Err(); err != nil {
		return nil, fmt.Errorf("redis: commit cursor %s: %w", symbol, err)
	}
	b.mu.Lock()
	b.cursors[symbol] = last
	b.mu.Unlock()
	return results, nil
}

// cursor returns the last-consumed stream ID for symbol, consulting the
// local cache first and falling back to the persisted hash.
func (b *MetricsBus) cursor(ctx context.Context, symbol string) (string, error) {
	b.mu.Lock()
	cached, ok := b.cursors[symbol]
	b.mu.Unlock()
	if ok {
		return cached, nil
	}

	stored, err := b.rdb.HGet(ctx, cursorsKey, symbol).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: load cursor %s: %w", symbol, err)
	}
	b.mu.Lock()
	b.cursors[symbol] = stored
	b.mu.Unlock()
	return stored, nil
}
