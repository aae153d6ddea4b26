// Package ws fans station events out to WebSocket clients. Every component
// broadcasts through one Hub; each connected client receives every event.
// The last few events are kept and replayed to a client when it connects, so
// a late `stationctl watch` still sees the current state and pass.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/ground-station/internal/telemetry"
)

const (
	writeWait  = 3 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
)

// Hub owns the client set. Registration, removal and broadcast all go
// through channels into Run, so only Run touches the clients map.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	upgrader   websocket.Upgrader
	log        telemetry.Logger

	recent  [][]byte
	keep    int
	count   atomic.Int64
	dropped atomic.Int64
}

// NewHub keeps the last replay events for new clients. Call Run in a
// goroutine to start delivery.
func NewHub(replay int, log telemetry.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan []byte, 256),
		keep:       replay,
		log:        log.With("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Dropped counts events discarded because the broadcast queue was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Run delivers events until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			for _, msg := range h.recent {
				if !h.send(c, websocket.TextMessage, msg) {
					break
				}
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case msg := <-h.broadcast:
			if h.keep > 0 {
				h.recent = append(h.recent, msg)
				if len(h.recent) > h.keep {
					h.recent = h.recent[len(h.recent)-h.keep:]
				}
			}
			for c := range h.clients {
				h.send(c, websocket.TextMessage, msg)
			}

		case <-ping.C:
			for c := range h.clients {
				h.send(c, websocket.PingMessage, nil)
			}
		}
	}
}

// send writes one frame, dropping the client on failure.
func (h *Hub) send(c *websocket.Conn, kind int, msg []byte) bool {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(kind, msg); err != nil {
		h.log.Debugf("dropping client %s: %v", c.RemoteAddr(), err)
		h.drop(c)
		return false
	}
	return true
}

func (h *Hub) drop(c *websocket.Conn) {
	delete(h.clients, c)
	h.count.Store(int64(len(h.clients)))
	_ = c.Close()
}

// Handler upgrades requests on /ws and registers the connection. Clients
// never send anything useful; the read loop exists to process pongs and
// notice disconnects.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			h.log.Debugf("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}
		h.register <- conn

		go func() {
			defer func() { h.unregister <- conn }()
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// BroadcastJSON queues v for every client. A full queue drops the event
// rather than block the caller; the scheduler must never stall on a slow
// client.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.dropped.Add(1)
	}
}
