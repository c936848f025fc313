package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, srv.URL, "key-id", "key-secret")
}

func TestClockParsesAndAuthenticates(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/clock", r.URL.Path)
		require.Equal(t, "key-id", r.Header.Get("APCA-API-KEY-ID"))
		require.Equal(t, "key-secret", r.Header.Get("APCA-API-SECRET-KEY"))
		json.NewEncoder(w).Encode(map[string]any{
			"is_open":    true,
			"next_open":  "2026-09-01T13:30:00Z",
			"next_close": "2026-08-31T20:00:00Z",
		})
	})

	clock, err := c.Clock(context.Background())
	require.NoError(t, err)
	require.True(t, clock.IsOpen)
	require.Equal(t, 2026, clock.NextOpen.Year())
}

func TestEquityParsesStringNumber(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/account", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"equity": "103250.75"})
	})

	equity, err := c.Equity(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 103250.75, equity, 1e-9)
}

func TestLatestPrice(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/stocks/AAPL/trades/latest", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"symbol": "AAPL",
			"trade":  map[string]any{"p": 231.45, "s": 100, "t": time.Now().UTC()},
		})
	})

	price, err := c.LatestPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	require.InDelta(t, 231.45, price, 1e-9)
}

func TestSubmitOrderSendsMarketDayOrder(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/orders", r.URL.Path)

		var req orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "market", req.Type)
		require.Equal(t, "day", req.TimeInForce)
		require.Equal(t, "10", req.Qty)
		require.Equal(t, "cid-1", req.ClientOrderID)

		json.NewEncoder(w).Encode(orderResponse{
			ID: "ord-1", ClientOrderID: req.ClientOrderID,
			Symbol: req.Symbol, Side: req.Side,
			Qty: req.Qty, FilledQty: "0", Status: "accepted",
		})
	})

	ord, err := c.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: 10, ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	require.Equal(t, "ord-1", ord.ID)
	require.Equal(t, domain.OrderStatusAccepted, ord.Status)
	require.InDelta(t, 10, ord.Quantity, 1e-12)
}

func TestPositionsNegatesShorts(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]positionResponse{
			{Symbol: "AAPL", Qty: "10", Side: "long", AvgEntryPrice: "200.5"},
			{Symbol: "TSLA", Qty: "4", Side: "short", AvgEntryPrice: "300"},
		})
	})

	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	require.InDelta(t, 10, positions[0].Quantity, 1e-12)
	require.InDelta(t, -4, positions[1].Quantity, 1e-12)
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"code": 40410000, "message": "order not found"})
	})

	err := c.CancelOrder(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpenOrdersFiltersBySymbol(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "open", r.URL.Query().Get("status"))
		require.Equal(t, "AAPL", r.URL.Query().Get("symbols"))
		json.NewEncoder(w).Encode([]orderResponse{
			{ID: "ord-1", Symbol: "AAPL", Side: "buy", Qty: "5", FilledQty: "0", Status: "new"},
		})
	})

	orders, err := c.OpenOrders(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, domain.OrderStatusNew, orders[0].Status)
}
