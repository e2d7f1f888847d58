package monitoring

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/conneroisu/docrelay/internal/intake"
	"github.com/conneroisu/docrelay/internal/logging"
)

const (
	// Time allowed to write one outcome to a subscriber.
	writeWait = 10 * time.Second

	// Outcomes buffered per subscriber before it is disconnected.
	subscriberBuffer = 64
)

type subscriber struct {
	send chan intake.Outcome
}

// EventHub streams pipeline outcomes to websocket subscribers. It is an
// intake.OutcomeSink; Record never blocks the worker.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	closed  bool
	logger  logging.Logger

	dropped atomic.Int64
}

// NewEventHub creates an empty hub.
func NewEventHub(logger logging.Logger) *EventHub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EventHub{
		clients: make(map[*subscriber]struct{}),
		logger:  logger.WithComponent("event_hub"),
	}
}

// Record fans out to every subscriber. Subscribers whose buffer is full
// are disconnected.
func (h *EventHub) Record(out intake.Outcome) {
	var slow []*subscriber

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- out:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.dropped.Add(1)
		h.remove(c)
	}
}

// ServeHTTP upgrades the request and streams outcomes as JSON text frames
// until the peer goes away.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}

	c := &subscriber{send: make(chan intake.Outcome, subscriberBuffer)}
	if !h.add(c) {
		_ = conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	}
	defer h.remove(c)

	// subscribers never send; CloseRead handles control frames
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-c.send:
			if !ok {
				_ = conn.Close(websocket.StatusPolicyViolation, "subscriber too slow or server closing")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := wsjson.Write(writeCtx, conn, out)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *EventHub) add(c *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug(context.Background(), "Subscriber connected", "total", len(h.clients))
	return true
}

func (h *EventHub) remove(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Subscribers returns the number of connected subscribers.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many subscribers were cut off for being slow.
func (h *EventHub) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every subscriber and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
