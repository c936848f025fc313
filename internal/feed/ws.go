// Package feed ingests the real-time trade stream over WebSocket and hands
// each trade to the aggregation engine.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// TradeHandler is called for each trade received from the stream.
type TradeHandler func(ctx context.Context, event domain.TradeEvent)

// tradeMessage is the wire shape of one trade on the stream.
type tradeMessage struct {
	Type      string    `json:"type"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// subscribeCommand requests trade messages for a set of symbols.
type subscribeCommand struct {
	Action string   `json:"action"`
	Trades []string `json:"trades,omitempty"`
}

// WSClient is one WebSocket connection to the trade stream. It owns the read
// and ping loops; reconnection is the caller's concern.
type WSClient struct {
	wsURL   string
	conn    *websocket.Conn
	writeMu sync.Mutex
	onTrade TradeHandler
	done    chan struct{}
	once    sync.Once
}

// NewWSClient creates a client for the given trade-stream endpoint.
func NewWSClient(wsURL string, onTrade TradeHandler) *WSClient {
	return &WSClient{
		wsURL:   wsURL,
		onTrade: onTrade,
		done:    make(chan struct{}),
	}
}

// Connect dials the endpoint and starts the read and ping loops. The
// returned channel closes when the connection dies for any reason.
func (w *WSClient) Connect(ctx context.Context) (<-chan struct{}, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: connect %s: %w", w.wsURL, err)
	}
	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(ctx)
	go w.pingLoop()
	return w.done, nil
}

// Subscribe requests trade messages for the given symbols.
func (w *WSClient) Subscribe(symbols []string) error {
	return w.send(subscribeCommand{Action: "subscribe", Trades: symbols})
}

// Close tears the connection down.
func (w *WSClient) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.conn != nil {
			err = w.conn.Close()
		}
	})
	return err
}

func (w *WSClient) send(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("feed: write: %w", err)
	}
	return nil
}

func (w *WSClient) readLoop(ctx context.Context) {
	defer w.Close()
	for {
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg tradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type != "trade" {
			continue
		}
		w.onTrade(ctx, domain.TradeEvent{
			Symbol:    msg.Symbol,
			Price:     msg.Price,
			Size:      msg.Size,
			Timestamp: msg.Timestamp,
		})
	}
}

func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				w.Close()
				return
			}
		}
	}
}
