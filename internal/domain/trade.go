// Package domain defines the core types shared across quantbot: trade
// events, window metrics, agent state, allocations, and the capability
// interfaces (broker, metrics bus, stores) the components depend on.
package domain

import (
	"fmt"
	"time"
)

// TradeEvent is a single raw trade for one instrument. Events are immutable
// once received; Timestamp is event time and is monotonic per instrument.
type TradeEvent struct {
	Symbol    string
	Price     float64
	Size      int64
	Timestamp time.Time
}

// Validate reports whether the event is well-formed. Malformed events are
// transient data errors: callers drop them with a warning rather than
// crashing the accumulator.
func (e TradeEvent) Validate() error {
	if e.Symbol == "" {
		return fmt.Errorf("trade event: empty symbol: %w", ErrBadEvent)
	}
	if e.Price <= 0 {
		return fmt.Errorf("trade event %s: non-positive price %v: %w", e.Symbol, e.Price, ErrBadEvent)
	}
	if e.Size < 0 {
		return fmt.Errorf("trade event %s: negative size %d: %w", e.Symbol, e.Size, ErrBadEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("trade event %s: zero timestamp: %w", e.Symbol, ErrBadEvent)
	}
	return nil
}

// Notional returns price times size for the event.
func (e TradeEvent) Notional() float64 {
	return e.Price * float64(e.Size)
}
