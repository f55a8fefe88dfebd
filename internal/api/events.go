package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/gatetimer/internal/monitoring"
	"github.com/banshee-data/gatetimer/internal/timing"
)

const (
	clientBuffer = 32
	writeWait    = 2 * time.Second
	pingPeriod   = 30 * time.Second
)

// Event is one message on the /api/events stream.
type Event struct {
	Type     string            `json:"type"` // "lap" or "crossing"
	UptimeMs uint32            `json:"uptime_ms"`
	Lap      *timing.LapRecord `json:"lap,omitempty"`
	Crossing *CrossingEvent    `json:"crossing,omitempty"`
}

// CrossingEvent reports a crossing edge.
type CrossingEvent struct {
	Active bool  `json:"active"`
	RSSI   uint8 `json:"rssi"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventHub fans core events out to websocket clients. Slow clients lose
// events rather than stalling the sampler.
type eventHub struct {
	millis      func() uint32
	unsubscribe func()

	mu      sync.Mutex
	clients map[chan Event]struct{}
	closed  bool
	dropped atomic.Uint64
}

func newEventHub(millis func() uint32) *eventHub {
	return &eventHub{millis: millis, clients: make(map[chan Event]struct{})}
}

func (h *eventHub) LapRecorded(lap timing.LapRecord) {
	h.broadcast(Event{Type: "lap", UptimeMs: h.millis(), Lap: &lap})
}

func (h *eventHub) CrossingChanged(active bool, rssi uint8) {
	h.broadcast(Event{Type: "crossing", UptimeMs: h.millis(), Crossing: &CrossingEvent{Active: active, RSSI: rssi}})
}

func (h *eventHub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// register returns nil once the hub is closed.
func (h *eventHub) register() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	ch := make(chan Event, clientBuffer)
	h.clients[ch] = struct{}{}
	return ch
}

func (h *eventHub) unregister(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *eventHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *eventHub) close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Registered before the upgrade so no event after the handshake is
	// missed.
	ch := s.events.register()
	if ch == nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.events.unregister(ch)
		return
	}
	defer conn.Close()
	defer s.events.unregister(ch)

	// The reader only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				monitoring.Logf("[api] event stream write failed: %v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
