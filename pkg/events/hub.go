// Package events fans device lifecycle events out to in-process subscribers and
// websocket clients. Publishing never blocks: a slow subscriber drops events.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"devicefarm/internal/model"
	"devicefarm/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	subscriberBufferSize = 64
	historySize          = 200

	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
)

// Publisher publishes device events
type Publisher interface {
	Publish(ctx context.Context, event model.DeviceEvent)
}

// Hub in-process event broadcaster
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan model.DeviceEvent]struct{}
	history     []model.DeviceEvent
	now         func() time.Time
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates an event hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan model.DeviceEvent]struct{}),
		now:         time.Now,
	}
}

// Publish records event and delivers it to every subscriber with room in its buffer
func (h *Hub) Publish(ctx context.Context, event model.DeviceEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = h.now().UnixMilli()
	}

	logger.Info("device event",
		zap.String("type", event.Type),
		zap.String("udid", event.UDID),
		zap.String("host", event.Host),
		zap.Float64("idle_seconds", event.IdleSeconds),
		zap.String("message", event.Message),
	)

	h.mu.Lock()
	h.history = append(h.history, event)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}
	h.mu.Unlock()

	// Sends happen under the read lock so cancel and Close cannot close a channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			logger.DebugCtx(ctx, "event subscriber buffer full, dropping %s", event.Type)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function unregisters it and closes the channel.
func (h *Hub) Subscribe() (<-chan model.DeviceEvent, func()) {
	ch := make(chan model.DeviceEvent, subscriberBufferSize)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
}

// Recent returns up to limit most recent events, oldest first
func (h *Hub) Recent(limit int) []model.DeviceEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > len(h.history) {
		limit = len(h.history)
	}
	out := make([]model.DeviceEvent, limit)
	copy(out, h.history[len(h.history)-limit:])
	return out
}

// SubscriberCount returns the number of registered subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close unregisters every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
}

// ServeWS upgrades the request to a websocket and streams events until either side closes
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCtx(r.Context(), "websocket upgrade failed: %v", err)
		return
	}

	events, cancel := h.Subscribe()
	done := make(chan struct{})

	go readPump(conn, done)
	writePump(conn, events, done)
	cancel()
}

// readPump discards client messages and signals done when the connection closes
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, events <-chan model.DeviceEvent, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

var _ Publisher = (*Hub)(nil)
