package event

import (
	"context"
	"time"

	"backoffice/pkg/logger"
)

// DefaultRefreshInterval is the fallback refresh period.
const DefaultRefreshInterval = 30 * time.Second

// Scope narrows a refresh. An empty ItemID means refresh everything.
type Scope struct {
	ItemID string
}

// RefreshFunc re-reads whatever view an observer maintains.
type RefreshFunc func(ctx context.Context, scope Scope) error

// subjecter is implemented by ledger payloads that concern a single item.
type subjecter interface {
	Subject() string
}

// Subscriber is the part of Bus observers need.
type Subscriber interface {
	Subscribe(channel string, handler Handler) (unsubscribe func())
}

// SubscribeRefresh calls refresh whenever an event arrives on any of channels.
// The returned func removes every subscription.
func SubscribeRefresh(bus Subscriber, refresh RefreshFunc, channels ...string) (unsubscribe func()) {
	unsubs := make([]func(), 0, len(channels))
	for _, ch := range channels {
		unsubs = append(unsubs, bus.Subscribe(ch, func(ctx context.Context, _ string, payload any) error {
			var scope Scope
			if s, ok := payload.(subjecter); ok {
				scope.ItemID = s.Subject()
			}
			return refresh(ctx, scope)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// IntervalRefresher calls Refresh on a fixed period while Active reports true.
// It covers events an observer missed.
type IntervalRefresher struct {
	Interval time.Duration
	Refresh  RefreshFunc

	// Active gates each tick; nil means always active.
	Active func() bool
}

// Run blocks until ctx is cancelled.
func (r *IntervalRefresher) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one refresh if the observer is active. It reports whether
// Refresh was called.
func (r *IntervalRefresher) Tick(ctx context.Context) bool {
	if r.Active != nil && !r.Active() {
		return false
	}
	if err := r.Refresh(ctx, Scope{}); err != nil {
		logger.Warn(ctx, "interval refresh failed", "error", err)
	}
	return true
}
