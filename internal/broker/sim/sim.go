// Package sim is an in-memory broker for local runs and tests. It fills
// market orders instantly at the current simulated price and keeps the
// account entirely in process.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// Broker simulates an always-open brokerage account.
type Broker struct {
	mu        sync.Mutex
	cash      float64
	prices    map[string]float64
	positions map[string]*domain.BrokerPosition
	orders    []domain.Order
	now       func() time.Time
}

var _ domain.Broker = (*Broker)(nil)

// New creates a simulated account with the given starting cash.
func New(startingCash float64) *Broker {
	return &Broker{
		cash:      startingCash,
		prices:    make(map[string]float64),
		positions: make(map[string]*domain.BrokerPosition),
		now:       time.Now,
	}
}

// SetPrice sets the simulated market price for symbol. Prices feed both
// fills and equity marks.
func (b *Broker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// Clock reports a market that never closes.
func (b *Broker) Clock(context.Context) (domain.MarketClock, error) {
	now := b.now()
	return domain.MarketClock{
		IsOpen:    true,
		NextOpen:  now,
		NextClose: now.Add(24 * time.Hour),
	}, nil
}

func (b *Broker) LatestPrice(_ context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("sim: price for %s: %w", symbol, domain.ErrNotFound)
	}
	return p, nil
}

// Bars synthesizes flat one-minute bars at the current price.
func (b *Broker) Bars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	b.mu.Lock()
	price, ok := b.prices[symbol]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sim: price for %s: %w", symbol, domain.ErrNotFound)
	}

	var bars []domain.Bar
	for t := start.Truncate(time.Minute); t.Before(end); t = t.Add(time.Minute) {
		bars = append(bars, domain.Bar{
			Symbol: symbol,
			Start:  t,
			Open:   price, High: price, Low: price, Close: price,
		})
	}
	return bars, nil
}

// OpenOrders always returns nothing: simulated fills are instantaneous, so
// no order stays open.
func (b *Broker) OpenOrders(context.Context, string) ([]domain.Order, error) {
	return nil, nil
}

func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	return fmt.Errorf("sim: order %s: %w", orderID, domain.ErrNotFound)
}

// SubmitOrder fills the order immediately at the current simulated price.
func (b *Broker) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.prices[req.Symbol]
	if !ok {
		return domain.Order{}, fmt.Errorf("sim: price for %s: %w", req.Symbol, domain.ErrNotFound)
	}
	if req.Quantity <= 0 {
		return domain.Order{}, fmt.Errorf("sim: non-positive quantity %v", req.Quantity)
	}

	signed := req.Quantity
	if req.Side == domain.OrderSideSell {
		signed = -signed
	}

	pos, ok := b.positions[req.Symbol]
	if !ok {
		pos = &domain.BrokerPosition{Symbol: req.Symbol, AvgEntry: price}
		b.positions[req.Symbol] = pos
	}
	pos.Quantity += signed
	if pos.Quantity == 0 {
		delete(b.positions, req.Symbol)
	}
	b.cash -= signed * price

	ord := domain.Order{
		ID:            uuid.New().String(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		FilledQty:     req.Quantity,
		Status:        domain.OrderStatusFilled,
		SubmittedAt:   b.now(),
	}
	b.orders = append(b.orders, ord)
	return ord, nil
}

func (b *Broker) Positions(context.Context) ([]domain.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.BrokerPosition, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out, nil
}

// Equity marks every position at the current price and adds cash.
func (b *Broker) Equity(context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for sym, pos := range b.positions {
		equity += pos.Quantity * b.prices[sym]
	}
	return equity, nil
}

// Fills returns every order the account has executed.
func (b *Broker) Fills() []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Order, len(b.orders))
	copy(out, b.orders)
	return out
}
