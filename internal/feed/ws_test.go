package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// newTradeServer upgrades one connection, waits for a subscribe command, and
// replays the given raw messages before closing.
func newTradeServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var cmd subscribeCommand
		require.NoError(t, conn.ReadJSON(&cmd))
		require.Equal(t, "subscribe", cmd.Action)

		for _, msg := range messages {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		}
		// Hold the connection open long enough for the client to read.
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClientDispatchesTrades(t *testing.T) {
	srv := newTradeServer(t, []string{
		`{"type":"trade","symbol":"AAPL","price":231.5,"size":100,"timestamp":"2026-08-28T14:30:00Z"}`,
		`{"type":"status","message":"ignored"}`,
		`{"type":"trade","symbol":"MSFT","price":502.1,"size":50,"timestamp":"2026-08-28T14:30:01Z"}`,
	})

	events := make(chan domain.TradeEvent, 8)
	client := NewWSClient(wsURL(srv), func(_ context.Context, ev domain.TradeEvent) {
		events <- ev
	})
	t.Cleanup(func() { client.Close() })

	_, err := client.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, client.Subscribe([]string{"AAPL", "MSFT"}))

	first := receiveTrade(t, events)
	require.Equal(t, "AAPL", first.Symbol)
	require.InDelta(t, 231.5, first.Price, 1e-9)
	require.Equal(t, int64(100), first.Size)

	second := receiveTrade(t, events)
	require.Equal(t, "MSFT", second.Symbol, "non-trade messages are skipped")
}

func TestWSClientSignalsDisconnect(t *testing.T) {
	srv := newTradeServer(t, nil)

	client := NewWSClient(wsURL(srv), func(context.Context, domain.TradeEvent) {})
	dead, err := client.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, client.Subscribe([]string{"AAPL"}))

	select {
	case <-dead:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not report the server-side close")
	}
}

func receiveTrade(t *testing.T, events <-chan domain.TradeEvent) domain.TradeEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trade")
		return domain.TradeEvent{}
	}
}
