// Package display pushes subtitle changes to connected viewers over WebSocket.
package display

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"live-subtitles-service/internal/events"
	"live-subtitles-service/internal/observability/logging"
	"live-subtitles-service/internal/observability/metrics"
	"live-subtitles-service/internal/service/subtitle"
)

const (
	broadcastBuffer = 256
	viewerBuffer    = 32
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
)

// message is one payload queued for the viewers of a channel.
type message struct {
	channel string
	payload []byte
}

// viewer is one WebSocket connection watching a channel.
type viewer struct {
	id      string
	channel string
	conn    *websocket.Conn
	send    chan []byte
}

// Hub manages WebSocket viewers, grouped by channel.
type Hub struct {
	viewers    map[string]map[string]*viewer
	broadcast  chan message
	register   chan *viewer
	unregister chan *viewer
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewHub creates a hub. Call Run to start dispatching.
func NewHub(m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Hub{
		viewers:    make(map[string]map[string]*viewer),
		broadcast:  make(chan message, broadcastBuffer),
		register:   make(chan *viewer),
		unregister: make(chan *viewer),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // viewers are embedded in arbitrary pages
			},
		},
		metrics: m,
		log:     logging.WithComponent("display.Hub"),
	}
}

// Run dispatches registrations and broadcasts until ctx is done, then closes
// every viewer.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, byID := range h.viewers {
				for _, v := range byID {
					close(v.send)
					h.metrics.RecordViewerDisconnected()
				}
			}
			h.viewers = make(map[string]map[string]*viewer)
			h.mu.Unlock()
			return

		case v := <-h.register:
			h.mu.Lock()
			if h.viewers[v.channel] == nil {
				h.viewers[v.channel] = make(map[string]*viewer)
			}
			h.viewers[v.channel][v.id] = v
			total := len(h.viewers[v.channel])
			h.mu.Unlock()
			h.metrics.RecordViewerConnected()
			h.log.Info().
				Str("channel", v.channel).
				Str("viewerId", v.id).
				Int("total", total).
				Msg("Viewer connected")

		case v := <-h.unregister:
			h.remove(v)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*viewer
			for _, v := range h.viewers[msg.channel] {
				select {
				case v.send <- msg.payload:
				default:
					slow = append(slow, v)
				}
			}
			h.mu.RUnlock()
			// A viewer that cannot keep up is disconnected.
			for _, v := range slow {
				h.log.Warn().Str("viewerId", v.id).Msg("Viewer too slow, disconnecting")
				h.remove(v)
			}
		}
	}
}

func (h *Hub) remove(v *viewer) {
	h.mu.Lock()
	byID, ok := h.viewers[v.channel]
	if ok {
		if _, ok = byID[v.id]; ok {
			delete(byID, v.id)
			close(v.send)
			if len(byID) == 0 {
				delete(h.viewers, v.channel)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		h.metrics.RecordViewerDisconnected()
		h.log.Info().
			Str("channel", v.channel).
			Str("viewerId", v.id).
			Msg("Viewer disconnected")
	}
}

// Publish queues event for the viewers of channel. It never blocks: when the
// queue is full the event is dropped and false is returned.
func (h *Hub) Publish(channel string, event any) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("channel", channel).Msg("Failed to marshal viewer event")
		return false
	}

	select {
	case h.broadcast <- message{channel: channel, payload: payload}:
		h.metrics.RecordBroadcast(true)
		return true
	default:
		h.metrics.RecordBroadcast(false)
		return false
	}
}

// ViewerCount returns the number of viewers of channel.
func (h *Hub) ViewerCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers[channel])
}

// Listener returns a subtitle.Listener that forwards every change of the
// given session to the viewers of its channel.
func (h *Hub) Listener(channel, sessionId string) subtitle.Listener {
	return &sessionListener{hub: h, channel: channel, sessionId: sessionId}
}

type sessionListener struct {
	hub       *Hub
	channel   string
	sessionId string
}

func (l *sessionListener) OnSubtitle(s subtitle.Snapshot) {
	l.hub.Publish(l.channel, events.UpdateEvent(l.channel, l.sessionId, s))
}

func (l *sessionListener) OnCleared() {
	l.hub.Publish(l.channel, events.ClearedEvent(l.channel, l.sessionId, time.Now()))
}

// ServeWS upgrades the request and registers the connection as a viewer of
// channel. The connection is served until the client goes away or the hub
// stops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("channel", channel).Msg("WebSocket upgrade failed")
		return
	}

	v := &viewer{
		id:      uuid.NewString(),
		channel: channel,
		conn:    conn,
		send:    make(chan []byte, viewerBuffer),
	}
	select {
	case h.register <- v:
	case <-h.done:
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
		return
	}

	go h.writePump(v)
	go h.readPump(v)
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(v *viewer) {
	defer func() {
		select {
		case h.unregister <- v:
		case <-h.done:
		}
	}()

	v.conn.SetReadLimit(512)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump sends queued payloads and keepalive pings. It owns every write
// on the connection.
func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.log.Debug().
					Err(err).
					Str("viewerId", v.id).
					Str("payload", truncate(string(payload), 80)).
					Msg("Write to viewer failed")
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
