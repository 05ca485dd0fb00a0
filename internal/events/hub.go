package events

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 256
)

// Hub broadcasts published events to WebSocket subscribers.
// A subscriber may filter with ?stream=<id>. Subscribers that fall behind
// by more than a full send buffer are disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn     *websocket.Conn
	send     chan []byte
	streamID uint64 // 0 = all streams
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers a subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var streamID uint64
	if v := r.URL.Query().Get("stream"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid stream id", http.StatusBadRequest)
			return
		}
		streamID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[hub] upgrade: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendSize), streamID: streamID}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.WSClients.Set(float64(n))

	go h.writePump(c)
	go h.readPump(c)
}

// Publish implements Sink.
func (h *Hub) Publish(_ context.Context, evs []*domain.Event) error {
	payloads := make([][]byte, len(evs))
	for i, e := range evs {
		b, err := Encode(e)
		if err != nil {
			return err
		}
		payloads[i] = b
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		for i, e := range evs {
			if c.streamID != 0 && c.streamID != e.StreamID {
				continue
			}
			select {
			case c.send <- payloads[i]:
			default:
				h.removeLocked(c)
			}
		}
	}
	return nil
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.WSClients.Set(float64(len(h.clients)))
}

// readPump discards inbound messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the send buffer and keeps the connection alive.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ Sink = (*Hub)(nil)
