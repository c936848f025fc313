// Package alpaca is the REST client for the Alpaca trading and market data
// APIs. The same client serves paper and live accounts; only the base URL
// differs.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

const (
	PaperBaseURL = "https://paper-api.alpaca.markets"
	LiveBaseURL  = "https://api.alpaca.markets"
	DataBaseURL  = "https://data.alpaca.markets"
)

// Client talks to the Alpaca trading and data APIs on behalf of one account.
type Client struct {
	tradeURL   string
	dataURL    string
	keyID      string
	secret     string
	httpClient *http.Client
}

var _ domain.Broker = (*Client)(nil)

// NewClient creates an Alpaca client. tradeURL selects the paper or live
// account endpoint; dataURL may be empty to use the public data host.
func NewClient(tradeURL, dataURL, keyID, secret string) *Client {
	if dataURL == "" {
		dataURL = DataBaseURL
	}
	return &Client{
		tradeURL: tradeURL,
		dataURL:  dataURL,
		keyID:    keyID,
		secret:   secret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Clock returns the market calendar state.
func (c *Client) Clock(ctx context.Context) (domain.MarketClock, error) {
	body, err := c.do(ctx, http.MethodGet, c.tradeURL+"/v2/clock", nil)
	if err != nil {
		return domain.MarketClock{}, fmt.Errorf("alpaca: get clock: %w", err)
	}

	var resp clockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.MarketClock{}, fmt.Errorf("alpaca: decode clock: %w", err)
	}
	return domain.MarketClock{
		IsOpen:    resp.IsOpen,
		NextOpen:  resp.NextOpen,
		NextClose: resp.NextClose,
	}, nil
}

// Equity returns total account equity in USD.
func (c *Client) Equity(ctx context.Context) (float64, error) {
	body, err := c.do(ctx, http.MethodGet, c.tradeURL+"/v2/account", nil)
	if err != nil {
		return 0, fmt.Errorf("alpaca: get account: %w", err)
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("alpaca: decode account: %w", err)
	}
	equity, err := strconv.ParseFloat(resp.Equity, 64)
	if err != nil {
		return 0, fmt.Errorf("alpaca: parse equity %q: %w", resp.Equity, err)
	}
	return equity, nil
}

// LatestPrice returns the price of the most recent trade for symbol.
func (c *Client) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	u := fmt.Sprintf("%s/v2/stocks/%s/trades/latest", c.dataURL, url.PathEscape(symbol))
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("alpaca: latest trade %s: %w", symbol, err)
	}

	var resp latestTradeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("alpaca: decode latest trade: %w", err)
	}
	if resp.Trade.Price <= 0 {
		return 0, fmt.Errorf("alpaca: no trade price for %s: %w", symbol, domain.ErrNotFound)
	}
	return resp.Trade.Price, nil
}

// Bars returns one-minute bars for symbol in [start, end).
func (c *Client) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	params := url.Values{}
	params.Set("timeframe", "1Min")
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))

	u := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", c.dataURL, url.PathEscape(symbol), params.Encode())
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("alpaca: get bars %s: %w", symbol, err)
	}

	var resp barsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("alpaca: decode bars: %w", err)
	}

	bars := make([]domain.Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		bars = append(bars, domain.Bar{
			Symbol: symbol,
			Start:  b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	return bars, nil
}

// OpenOrders returns currently open orders, optionally filtered by symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("status", "open")
	if symbol != "" {
		params.Set("symbols", symbol)
	}

	body, err := c.do(ctx, http.MethodGet, c.tradeURL+"/v2/orders?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("alpaca: list orders: %w", err)
	}

	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("alpaca: decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(resp))
	for _, o := range resp {
		orders = append(orders, toDomainOrder(o))
	}
	return orders, nil
}

// CancelOrder cancels one open order by its Alpaca order ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	u := c.tradeURL + "/v2/orders/" + url.PathEscape(orderID)
	if _, err := c.do(ctx, http.MethodDelete, u, nil); err != nil {
		return fmt.Errorf("alpaca: cancel order %s: %w", orderID, err)
	}
	return nil
}

// SubmitOrder places a market day order.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	payload := orderRequest{
		Symbol:        req.Symbol,
		Qty:           strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		Side:          string(req.Side),
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: req.ClientOrderID,
	}

	body, err := c.do(ctx, http.MethodPost, c.tradeURL+"/v2/orders", payload)
	if err != nil {
		return domain.Order{}, fmt.Errorf("alpaca: submit order %s: %w", req.Symbol, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("alpaca: decode order response: %w", err)
	}
	return toDomainOrder(resp), nil
}

// Positions returns the account's open positions.
func (c *Client) Positions(ctx context.Context) ([]domain.BrokerPosition, error) {
	body, err := c.do(ctx, http.MethodGet, c.tradeURL+"/v2/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("alpaca: list positions: %w", err)
	}

	var resp []positionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("alpaca: decode positions: %w", err)
	}

	positions := make([]domain.BrokerPosition, 0, len(resp))
	for _, p := range resp {
		qty, err := strconv.ParseFloat(p.Qty, 64)
		if err != nil {
			return nil, fmt.Errorf("alpaca: parse position qty %q: %w", p.Qty, err)
		}
		avg, err := strconv.ParseFloat(p.AvgEntryPrice, 64)
		if err != nil {
			return nil, fmt.Errorf("alpaca: parse avg entry %q: %w", p.AvgEntryPrice, err)
		}
		if p.Side == "short" && qty > 0 {
			qty = -qty
		}
		positions = append(positions, domain.BrokerPosition{
			Symbol:   p.Symbol,
			Quantity: qty,
			AvgEntry: avg,
		})
	}
	return positions, nil
}

// do builds, authenticates, sends, and reads an HTTP request against the
// Alpaca API.
func (c *Client) do(ctx context.Context, method, fullURL string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("APCA-API-KEY-ID", c.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx responses to errors, preserving Alpaca's error
// message where one is present.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		if statusCode == http.StatusNotFound {
			return fmt.Errorf("status %d: %s: %w", statusCode, apiErr.Message, domain.ErrNotFound)
		}
		return fmt.Errorf("status %d: %s", statusCode, apiErr.Message)
	}
	if statusCode == http.StatusNotFound {
		return fmt.Errorf("status %d: %w", statusCode, domain.ErrNotFound)
	}
	return fmt.Errorf("status %d: %s", statusCode, string(body))
}

func toDomainOrder(o orderResponse) domain.Order {
	qty, _ := strconv.ParseFloat(o.Qty, 64)
	filled, _ := strconv.ParseFloat(o.FilledQty, 64)
	return domain.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Quantity:      qty,
		FilledQty:     filled,
		Status:        domain.OrderStatus(o.Status),
		SubmittedAt:   o.SubmittedAt,
	}
}
