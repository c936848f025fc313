// Package broker holds helpers shared by broker client implementations.
package broker

import (
	"context"
	"fmt"
	"time"
)

// Retry runs fn up to attempts times with linearly growing backoff between
// tries. It is meant for idempotent reads only; order mutations must be
// called directly so a timeout cannot double-submit.
func Retry[T any](ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(time.Duration(i) * backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, fmt.Errorf("broker: %d attempts: %w", attempts, lastErr)
}
