// Package event provides the in-process notification bus the ledger
// publishes on, and the observers that refresh cached views from it.
package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Handler receives a published payload. Errors and panics are logged by the
// bus and never reach the publisher.
type Handler func(ctx context.Context, channel string, payload any) error

// DeliveryRecorder counts handler outcomes.
type DeliveryRecorder interface {
	Delivered(channel string)
	Failed(channel string)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous in-memory publish/subscribe registry. It is a passive
// fan-out: late subscribers miss earlier events and nothing is persisted.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string][]subscription
	nextID   uint64
	logger   *zap.Logger
	recorder DeliveryRecorder
	running  atomic.Bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithDeliveryRecorder sets the metrics sink for handler outcomes.
func WithDeliveryRecorder(r DeliveryRecorder) BusOption {
	return func(b *Bus) {
		b.recorder = r
	}
}

// NewBus creates a bus. It accepts publishes immediately; Start and Stop
// bracket the process lifecycle.
func NewBus(logger *zap.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.running.Store(true)
	return b
}

// Subscribe registers handler on channel and returns a func that removes it.
func (b *Bus) Subscribe(channel string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	subID := b.nextID
	b.subs[channel] = append(b.subs[channel], subscription{id: subID, handler: handler})
	b.mu.Unlock()

	b.logger.Debug("handler subscribed", zap.String("channel", channel), zap.Uint64("subscription", subID))

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(channel, subID) })
	}
}

func (b *Bus) remove(channel string, subID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[channel]
	for i, s := range subs {
		if s.id == subID {
			// Copy so an in-flight Publish keeps iterating its own snapshot.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[channel] = next
			break
		}
	}
	if len(b.subs[channel]) == 0 {
		delete(b.subs, channel)
	}
}

// Publish calls every handler on channel in registration order. A stopped bus
// drops the event.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) error {
	if !b.running.Load() {
		return nil
	}
	b.mu.RLock()
	subs := b.subs[channel]
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.dispatch(ctx, channel, s.handler, payload); err != nil {
			b.logger.Error("handler failed to process event",
				zap.String("channel", channel),
				zap.Uint64("subscription", s.id),
				zap.Error(err),
			)
			if b.recorder != nil {
				b.recorder.Failed(channel)
			}
			continue
		}
		if b.recorder != nil {
			b.recorder.Delivered(channel)
		}
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, channel string, h Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked on %s: %v", channel, r)
		}
	}()
	return h(ctx, channel, payload)
}

// Subscribers returns how many handlers are registered on channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Start marks the bus running.
func (b *Bus) Start(ctx context.Context) error {
	b.running.Store(true)
	b.logger.Info("event bus started")
	return nil
}

// Stop drops every subscription; later publishes are no-ops.
func (b *Bus) Stop(ctx context.Context) error {
	b.running.Store(false)
	b.mu.Lock()
	b.subs = make(map[string][]subscription)
	b.mu.Unlock()
	b.logger.Info("event bus stopped")
	return nil
}

// Running reports whether the bus accepts publishes.
func (b *Bus) Running() bool {
	return b.running.Load()
}
