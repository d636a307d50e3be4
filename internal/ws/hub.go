// Package ws pushes job status snapshots to WebSocket clients. The Hub is a
// Status Notifier subscriber; fan-out to sockets happens on buffered channels
// so a slow client never blocks a dispatcher mutation.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"renderhub/internal/dispatch"
	"renderhub/internal/pkg/logger"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 10 * time.Second
	pingInterval     = 30 * time.Second
)

// Hub tracks per-job subscriber channels.
type Hub struct {
	log *logger.Logger

	mu   sync.RWMutex
	subs map[string][]chan dispatch.Snapshot
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:  log.WithComponent("ws-hub"),
		subs: make(map[string][]chan dispatch.Snapshot),
	}
}

// Notify implements dispatch.Subscriber. A full subscriber channel drops the
// snapshot rather than blocking the publisher.
func (h *Hub) Notify(snap dispatch.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[snap.JobID] {
		select {
		case ch <- snap:
		default:
			h.log.Warn("subscriber channel full, dropping snapshot",
				"job_id", snap.JobID,
				"status", string(snap.Status),
			)
		}
	}
}

// Subscribe returns a channel receiving snapshots for one job and a function
// that tears the subscription down.
func (h *Hub) Subscribe(jobID string) (<-chan dispatch.Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan dispatch.Snapshot, subscriberBuffer)
	h.subs[jobID] = append(h.subs[jobID], ch)

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		subscribers := h.subs[jobID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				h.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(h.subs[jobID]) == 0 {
			delete(h.subs, jobID)
		}
	}
	return ch, unsub
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS layer in front.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeJob upgrades the request and streams snapshots for one job, starting
// with the given current state, until the job reaches a terminal state or the
// client goes away.
func (h *Hub) ServeJob(w http.ResponseWriter, r *http.Request, initial dispatch.Snapshot) {
	jobID := initial.JobID

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "job_id", jobID, "error", err.Error())
		return
	}
	defer conn.Close()

	ch, unsub := h.Subscribe(jobID)
	defer unsub()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(initial); err != nil {
		return
	}
	if initial.Status.Terminal() {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(initial.Status)))
		return
	}

	// Read pump: we expect no client messages, but reading is what surfaces
	// close frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case snap, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				h.log.Debug("websocket write failed", "job_id", jobID, "error", err.Error())
				return
			}
			if snap.Status.Terminal() {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status)))
				return
			}
		}
	}
}
