package domain

import (
	"context"
	"time"
)

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the broker-side order lifecycle.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderRequest is a new order to submit. ClientOrderID makes submission
// traceable and lets the broker reject accidental duplicates.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Quantity      float64
	ClientOrderID string
}

// Order is a broker-acknowledged order.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Quantity      float64
	FilledQty     float64
	Status        OrderStatus
	SubmittedAt   time.Time
}

// BrokerPosition is the broker's authoritative view of one held position.
type BrokerPosition struct {
	Symbol   string
	Quantity float64 // negative for shorts
	AvgEntry float64
}

// MarketClock describes the trading calendar around now.
type MarketClock struct {
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// Bar is one historical OHLCV bar.
type Bar struct {
	Symbol string
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Broker is the brokerage capability the core depends on but does not
// implement. Paper and live deployments are two configuration-selected
// implementations of this same interface; the core is indifferent to which
// is bound.
type Broker interface {
	// Clock returns the market calendar state. Callers use it to defer
	// rebalancing while the market is closed.
	Clock(ctx context.Context) (MarketClock, error)

	// LatestPrice returns the most recent trade price for symbol.
	LatestPrice(ctx context.Context, symbol string) (float64, error)

	// Bars returns historical bars for symbol in [start, end).
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)

	// OpenOrders returns currently open (cancellable) orders for symbol.
	// An empty symbol returns open orders across all instruments.
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)

	// CancelOrder cancels one open order by broker order ID.
	CancelOrder(ctx context.Context, orderID string) error

	// SubmitOrder places a new order and returns the broker's record of it.
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)

	// Positions returns the broker's authoritative positions.
	Positions(ctx context.Context) ([]BrokerPosition, error)

	// Equity returns total account equity in account currency.
	Equity(ctx context.Context) (float64, error)
}
