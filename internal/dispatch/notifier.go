package dispatch

import (
	"sync"

	"renderhub/internal/pkg/logger"
)

// Subscriber receives the post-mutation snapshot of a job after every state
// change. Delivery is synchronous and best-effort; a slow subscriber slows
// the mutating call, so subscribers doing I/O should hand off internally.
type Subscriber func(Snapshot)

// Notifier is the observer registry decoupling job mutation from reaction
// (WebSocket push, persistence mirror, Redis fan-out).
type Notifier struct {
	log *logger.Logger

	mu   sync.RWMutex
	subs []Subscriber
}

func NewNotifier(log *logger.Logger) *Notifier {
	return &Notifier{log: log.WithComponent("notifier")}
}

// Subscribe registers a callback. Subscribers registered after a transition
// never receive it; there is no replay.
func (n *Notifier) Subscribe(fn Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

// Publish delivers the snapshot to every subscriber in registration order.
// A panicking subscriber is logged and does not block the others.
func (n *Notifier) Publish(snap Snapshot) {
	n.mu.RLock()
	subs := make([]Subscriber, len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()

	for i, fn := range subs {
		n.deliver(i, fn, snap)
	}
}

func (n *Notifier) deliver(idx int, fn Subscriber, snap Snapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			n.log.Error("subscriber panicked",
				"subscriber", idx,
				"job_id", snap.JobID,
				"status", string(snap.Status),
				"panic", rec,
			)
		}
	}()
	fn(snap)
}
