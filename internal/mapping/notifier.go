package mapping

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Subscriber receives committed change events. Delivery is synchronous, so
// subscribers must not block; long work belongs on their own goroutines.
type Subscriber func(ctx context.Context, evt ChangeEvent)

// Notifier fans change events out to subscribers in registration order.
type Notifier struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]Subscriber
	logger *slog.Logger
}

func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{subs: make(map[int]Subscriber), logger: logger}
}

// Subscribe registers fn and returns a function that removes it.
func (n *Notifier) Subscribe(fn Subscriber) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Publish delivers events to every subscriber. A panicking subscriber is
// logged and does not stop delivery to the rest. A nil Notifier drops events.
func (n *Notifier) Publish(ctx context.Context, events ...ChangeEvent) {
	if n == nil || len(events) == 0 {
		return
	}
	n.mu.RLock()
	ids := make([]int, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, n.subs[id])
	}
	n.mu.RUnlock()

	for _, evt := range events {
		for _, fn := range subs {
			n.deliver(ctx, fn, evt)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, fn Subscriber, evt ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("mapping change subscriber panicked",
				"kind", evt.Kind,
				"mapping_id", evt.MappingID,
				"panic", r,
			)
		}
	}()
	fn(ctx, evt)
}
