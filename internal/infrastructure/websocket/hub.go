// Package websocket pushes ledger notifications to connected UI observers.
// Browsers re-fetch balances when told something changed; the hub never
// sends ledger data it did not receive from the bus.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"backoffice/internal/infrastructure/event"
	"backoffice/pkg/logger"
)

// Message types sent to and received from clients.
const (
	MessageTypePing       = "ping"
	MessageTypePong       = "pong"
	MessageTypeVisibility = "visibility"
	MessageTypeRefresh    = "refresh"
)

// Message is the frame exchanged with clients. Ledger events use the bus
// channel name as Type.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ClientRecorder observes the connected client count.
type ClientRecorder interface {
	ClientsChanged(n int)
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
	recorder   ClientRecorder
	done       chan struct{}
	stopOnce   sync.Once
}

// NewHub creates a hub. recorder may be nil.
func NewHub(recorder ClientRecorder) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		recorder:   recorder,
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		// Lifecycle events first so a broadcast never races a registration.
		select {
		case <-ctx.Done():
			h.closeAll(ctx)
			return ctx.Err()
		case c := <-h.Register:
			h.add(ctx, c)
			continue
		case c := <-h.Unregister:
			h.remove(ctx, c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll(ctx)
			return ctx.Err()
		case c := <-h.Register:
			h.add(ctx, c)
		case c := <-h.Unregister:
			h.remove(ctx, c)
		case frame := <-h.broadcast:
			h.fanOut(frame)
		}
	}
}

func (h *Hub) add(ctx context.Context, c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.observe(n)
	logger.Debug(ctx, "websocket client connected", "client_id", c.ID(), "total_clients", n)
}

func (h *Hub) remove(ctx context.Context, c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.observe(n)
	logger.Debug(ctx, "websocket client disconnected", "client_id", c.ID(), "total_clients", n)
}

func (h *Hub) closeAll(ctx context.Context) {
	h.mu.Lock()
	n := len(h.clients)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.stopOnce.Do(func() { close(h.done) })
	h.observe(0)
	logger.Info(ctx, "websocket hub stopped", "clients_closed", n)
}

func (h *Hub) observe(n int) {
	if h.recorder != nil {
		h.recorder.ClientsChanged(n)
	}
}

// fanOut delivers frame to clients in connection order. A client whose buffer
// is full is dropped.
func (h *Hub) fanOut(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.sortedClients() {
		select {
		case c.send <- frame:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
	h.observe(len(h.clients))
}

func (h *Hub) sortedClients() []*Client {
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Broadcast queues msg for every client. It drops the message when the
// queue is full.
func (h *Hub) Broadcast(msg Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- frame:
	default:
		logger.Warn(context.Background(), "websocket broadcast queue full, dropping message", "type", msg.Type)
	}
	return nil
}

// Forward relays every event on channels to clients.
func (h *Hub) Forward(bus event.Subscriber, channels ...string) (unsubscribe func()) {
	unsubs := make([]func(), 0, len(channels))
	for _, ch := range channels {
		unsubs = append(unsubs, bus.Subscribe(ch, func(_ context.Context, channel string, payload any) error {
			return h.Broadcast(Message{Type: channel, Data: payload})
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Refresh tells visible clients to re-fetch. It is the interval fallback
// for events a client missed.
func (h *Hub) Refresh(ctx context.Context, scope event.Scope) error {
	return h.Broadcast(Message{Type: MessageTypeRefresh, Data: scope})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AnyVisible reports whether at least one client's page is visible.
func (h *Hub) AnyVisible() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.Visible() {
			return true
		}
	}
	return false
}
