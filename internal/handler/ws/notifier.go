package ws

import (
	"context"
	"sync"
)

// PresenceSubscriber receives presence change notifications
type PresenceSubscriber interface {
	BroadcastPresence(ctx context.Context)
}

// Notifier lets code outside the relay request a presence broadcast.
// It holds a single subscriber; notifications before one registers are dropped.
type Notifier struct {
	mu         sync.RWMutex
	subscriber PresenceSubscriber
}

// NewNotifier creates a notifier with no subscriber
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Register installs s as the subscriber, replacing any previous one
func (n *Notifier) Register(s PresenceSubscriber) {
	n.mu.Lock()
	n.subscriber = s
	n.mu.Unlock()
}

// NotifyPresenceChanged asks the subscriber to broadcast a fresh snapshot
func (n *Notifier) NotifyPresenceChanged() {
	n.mu.RLock()
	s := n.subscriber
	n.mu.RUnlock()

	if s == nil {
		return
	}
	s.BroadcastPresence(context.Background())
}
