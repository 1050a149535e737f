package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/domain/registers/stock"
	"backoffice/internal/infrastructure/event"
)

type gaugeRecorder struct{ n atomic.Int64 }

func (g *gaugeRecorder) ClientsChanged(n int) { g.n.Store(int64(n)) }

func startHub(t *testing.T) (*Hub, *gaugeRecorder, string) {
	t.Helper()
	rec := &gaugeRecorder{}
	hub := NewHub(rec)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	t.Cleanup(cancel)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(hub, conn).Start()
	}))
	t.Cleanup(srv.Close)
	return hub, rec, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestHub_ForwardsBusEvents(t *testing.T) {
	hub, rec, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), rec.n.Load())

	bus := event.NewBus(nil)
	unsub := hub.Forward(bus, stock.ChannelBalanceUpdated)
	defer unsub()

	require.NoError(t, bus.Publish(context.Background(), stock.ChannelBalanceUpdated, stock.ChangeEvent{ItemID: "I1", WarehouseName: "Main"}))

	msg := readMessage(t, conn)
	assert.Equal(t, stock.ChannelBalanceUpdated, msg["type"])
	data, ok := msg["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "I1", data["itemId"])
	assert.Equal(t, "Main", data["warehouseName"])
}

func TestHub_PingAndVisibility(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, hub.AnyVisible())

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeVisibility, Data: map[string]bool{"visible": false}}))
	require.Eventually(t, func() bool { return !hub.AnyVisible() }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeVisibility, Data: map[string]bool{"visible": true}}))
	assert.Equal(t, MessageTypeRefresh, readMessage(t, conn)["type"])
	assert.True(t, hub.AnyVisible())
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	hub, rec, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, rec.n.Load())
}

func TestHub_StopRejectsNewClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	c := &Client{hub: hub, send: make(chan []byte, 1), direct: make(chan []byte, 1)}
	assert.False(t, c.Start())
}

func TestClient_Handle(t *testing.T) {
	c := &Client{}
	c.visible.Store(true)

	assert.Equal(t, &Message{Type: MessageTypePong}, c.handle([]byte(`{"type":"ping"}`)))
	assert.Nil(t, c.handle([]byte(`not json`)))
	assert.Nil(t, c.handle([]byte(`{"type":"visibility","data":{"visible":false}}`)))
	assert.False(t, c.Visible())
	assert.Equal(t, &Message{Type: MessageTypeRefresh}, c.handle([]byte(`{"type":"visibility","data":{"visible":true}}`)))
	assert.Nil(t, c.handle([]byte(`{"type":"visibility","data":{"visible":true}}`)))
}
