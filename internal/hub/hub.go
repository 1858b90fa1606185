// Package hub fans push events out to connected replicas. Delivery is
// best-effort and at most once: nothing is buffered for absent subscribers and
// a subscriber whose queue is full misses the event.
package hub

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"combat-meter/internal/config"
	"combat-meter/internal/constants"
	"combat-meter/internal/domain"
	"combat-meter/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type subscriber struct {
	id   string
	send chan []byte
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func New(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	h := &Hub{
		subs:    make(map[string]*subscriber),
		metrics: m,
		logger:  logger,
	}
	origins := cfg.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
	return h
}

// Subscribe registers a new subscriber. cancel is idempotent.
func (h *Hub) Subscribe() (id string, events <-chan []byte, cancel func()) {
	sub := &subscriber{
		id:   uuid.New().String(),
		send: make(chan []byte, constants.SubscriberBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.send)
		return sub.id, sub.send, func() {}
	}
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.Subscribers.Set(float64(n))
	h.logger.Debug().Str("subscriber_id", sub.id).Int("subscribers", n).Msg("subscriber added")

	var once sync.Once
	return sub.id, sub.send, func() {
		once.Do(func() { h.unsubscribe(sub.id) })
	}
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.send)
	}
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.metrics.Subscribers.Set(float64(n))
		h.logger.Debug().Str("subscriber_id", id).Int("subscribers", n).Msg("subscriber removed")
	}
}

// Publish encodes the event once and offers it to every subscriber without
// blocking.
func (h *Hub) Publish(kind string, payload any) {
	frame, err := json.Marshal(domain.Envelope{Type: kind, Data: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("kind", kind).Msg("failed to encode event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.metrics.EventsPublished.WithLabelValues(kind).Inc()
	for _, sub := range h.subs {
		select {
		case sub.send <- frame:
		default:
			h.metrics.EventsDropped.WithLabelValues(kind).Inc()
			h.logger.Warn().Str("subscriber_id", sub.id).Str("kind", kind).Msg("subscriber queue full, event dropped")
		}
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.send)
	}
	h.metrics.Subscribers.Set(0)
}

// ServeWS upgrades the request and streams events until either side goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	id, events, cancel := h.Subscribe()
	h.logger.Info().Str("subscriber_id", id).Str("remote_addr", r.RemoteAddr).Msg("replica connected")

	go h.writePump(conn, id, events)
	h.readPump(conn, id)
	cancel()
}

// readPump discards inbound frames; it exists to process control frames and
// notice the peer going away.
func (h *Hub) readPump(conn *websocket.Conn, id string) {
	conn.SetReadLimit(constants.WSMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(constants.WSPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(constants.WSPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("subscriber_id", id).Msg("websocket read failed")
			}
			return
		}
	}
}

// writePump pings on a period shorter than the replica's staleness threshold so
// a quiet session still counts as live.
func (h *Hub) writePump(conn *websocket.Conn, id string, events <-chan []byte) {
	ticker := time.NewTicker(constants.WSPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		h.logger.Info().Str("subscriber_id", id).Msg("replica disconnected")
	}()

	for {
		select {
		case frame, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug().Err(err).Str("subscriber_id", id).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
