package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/domain"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
)

// EventMessage is one frame on the /api/events stream.
type EventMessage struct {
	Type     string                    `json:"type"`
	CycleID  string                    `json:"cycle_id"`
	Rate     string                    `json:"rate,omitempty"`
	Result   *domain.MeasurementResult `json:"result,omitempty"`
	Decision domain.AlertDecision      `json:"decision,omitempty"`
}

// Hub fans coordinator events out to WebSocket subscribers. It implements
// monitor.Observer. Slow subscribers lose frames rather than stall a cycle.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS layer and API keys.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[chan []byte]struct{}),
	}
}

func (h *Hub) OnProgress(cycleID string, rate string) {
	h.publish(EventMessage{Type: "progress", CycleID: cycleID, Rate: rate})
}

func (h *Hub) OnCycleComplete(cycleID string, result domain.MeasurementResult) {
	typ := "completed"
	if !result.OK() {
		typ = "failed"
	}
	h.publish(EventMessage{Type: typ, CycleID: cycleID, Result: &result})
}

func (h *Hub) OnAlertDecision(cycleID string, decision domain.AlertDecision) {
	h.publish(EventMessage{Type: "decision", CycleID: cycleID, Decision: decision})
}

func (h *Hub) publish(m EventMessage) {
	b, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("event_encode_failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
			h.logger.Debug("event_dropped", zap.String("type", m.Type), zap.String("cycle_id", m.CycleID))
		}
	}
}

func (h *Hub) subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// Subscribers is the number of connected event streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Events.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.Logger.Warn("events_upgrade_failed", zap.Error(err))
		return
	}
	defer conn.Close()

	frames, unsubscribe := s.Events.subscribe()
	defer unsubscribe()
	s.Logger.Debug("events_subscribed", zap.String("remote", r.RemoteAddr))

	// Inbound frames are ignored; reading only notices the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case b := <-frames:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
