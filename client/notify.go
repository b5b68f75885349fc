package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// notifier holds the single session-ended handler. Notifications closer
// together than the debounce interval collapse into one.
type notifier struct {
	mu      sync.Mutex
	handler func()
	gate    *rate.Sometimes
	logger  *slog.Logger
}

func newNotifier(debounce time.Duration, logger *slog.Logger) *notifier {
	n := &notifier{logger: logger}
	if debounce > 0 {
		n.gate = &rate.Sometimes{Interval: debounce}
	}
	return n
}

func (n *notifier) set(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = fn
}

func (n *notifier) notify(ctx context.Context) {
	n.mu.Lock()
	fn := n.handler
	n.mu.Unlock()

	if fn == nil {
		n.logger.DebugContext(ctx, "session ended with no unauthorized handler registered")
		return
	}

	fire := true
	if n.gate != nil {
		fire = false
		n.gate.Do(func() { fire = true })
	}
	if !fire {
		n.logger.DebugContext(ctx, "unauthorized notification debounced")
		return
	}

	// the handler runs outside the gate so it may call back into the session
	defer func() {
		if r := recover(); r != nil {
			n.logger.ErrorContext(ctx, "unauthorized handler panicked", "panic", r)
		}
	}()
	fn()
}
