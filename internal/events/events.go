// Package events fans out pending item state changes to subscribers such as
// the SSE and WebSocket streams.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type discriminates event payloads.
type Type string

const (
	NewItem       Type = "new_item"
	ItemUpdated   Type = "item_updated"
	ItemError     Type = "item_error"
	ItemConfirmed Type = "item_confirmed"
	ItemDeleted   Type = "item_deleted"
)

// Event is one state change of a pending item.
type Event struct {
	Type   Type   `json:"type"`
	ItemID string `json:"item_id"`
	Status string `json:"status,omitempty"`
	// Message carries the failure reason for item_error.
	Message string `json:"message,omitempty"`
	// Destination is the published path for item_confirmed.
	Destination string `json:"destination,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Notifier delivers every published event to every live subscriber.
// Events reach a subscriber in publish order; a subscriber whose queue is
// full misses the event instead of stalling the publisher.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	logger *zap.Logger
	now    func() time.Time
}

// Subscription is a live event feed. Read from C until it is closed.
type Subscription struct {
	C  <-chan Event
	ch chan Event
	n  *Notifier
}

// New creates a notifier. A nil logger discards warnings.
func New(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		subs:   make(map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe registers a new subscriber.
func (n *Notifier) Subscribe() *Subscription {
	ch := make(chan Event, n.buffer)
	s := &Subscription{C: ch, ch: ch, n: n}

	n.mu.Lock()
	n.subs[s] = struct{}{}
	n.mu.Unlock()
	return s
}

// Close unregisters the subscription and closes C. It is safe to call twice.
func (s *Subscription) Close() {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	if _, ok := s.n.subs[s]; !ok {
		return
	}
	delete(s.n.subs, s)
	close(s.ch)
}

// Publish stamps e and delivers it without blocking.
func (n *Notifier) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = n.now().UnixMilli()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	for s := range n.subs {
		select {
		case s.ch <- e:
		default:
			n.logger.Warn("subscriber queue full, dropping event",
				zap.String("type", string(e.Type)),
				zap.String("item_id", e.ItemID))
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
