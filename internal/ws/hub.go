// Package ws broadcasts motion events to WebSocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vigil/internal/event"
)

const (
	// writeWait bounds every socket write.
	writeWait = 10 * time.Second
	// pingInterval is the protocol-level keepalive cadence.
	pingInterval = 30 * time.Second
	// pongWait is how long a subscriber may stay silent: one ping interval
	// plus the pong deadline.
	pongWait = pingInterval + 10*time.Second
	// readLimit caps inbound frames; clients only send small control JSON.
	readLimit = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one connected subscriber. The write mutex serializes broadcast
// writes, pings and pong replies on the shared connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *client) writePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Hub accepts subscribers on its own listener and fans motion events out to
// all of them. A write failure to one subscriber removes it at the end of
// the broadcast pass without affecting the others.
type Hub struct {
	listener net.Listener
	events   <-chan event.MotionEvent
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*client]bool
}

// NewHub creates a hub serving on the given listener and consuming events
// from the bus subscription.
func NewHub(listener net.Listener, events <-chan event.MotionEvent, log *slog.Logger) *Hub {
	return &Hub{
		listener: listener,
		events:   events,
		log:      log,
		clients:  make(map[*client]bool),
	}
}

// String names the service for the supervisor's logs.
func (h *Hub) String() string { return "websocket-hub" }

// Serve runs the hub until the context is cancelled: it accepts
// subscribers and broadcasts every bus event. On shutdown it announces
// server_shutdown and closes all sockets.
func (h *Hub) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleConnection)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	broadcastDone := make(chan struct{})
	go func() {
		defer close(broadcastDone)
		h.broadcastLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		h.shutdownClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	h.log.Info("websocket server listening", "addr", h.listener.Addr().String())
	err := srv.Serve(h.listener)
	<-broadcastDone
	if err == http.ErrServerClosed {
		return ctx.Err()
	}
	return err
}

// handleConnection upgrades a subscriber and runs its read loop.
func (h *Hub) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, done: make(chan struct{})}

	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Info("websocket client connected", "remote", r.RemoteAddr, "total", total)

	if err := c.writeJSON(NewConnectionMessage()); err != nil {
		h.remove(c)
		return
	}

	// Protocol keepalive: ping every interval, expect pong within the
	// deadline enforced by the read loop below.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				if err := c.writePing(); err != nil {
					return
				}
			}
		}
	}()

	h.readPump(c, r.RemoteAddr)
}

// readPump consumes inbound frames until the subscriber goes away. A JSON
// ping elicits a pong; malformed JSON is logged and ignored without
// closing the connection.
func (h *Hub) readPump(c *client, remote string) {
	defer h.remove(c)

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read error", "remote", remote, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Warn("ignoring invalid client JSON", "remote", remote)
			continue
		}
		if msg.Type == "ping" {
			if err := c.writeJSON(NewPongMessage()); err != nil {
				return
			}
		}
	}
}

// broadcastLoop drains the bus subscription for the hub's lifetime.
func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.events:
			if !ok {
				return
			}
			h.Broadcast(NewMotionEventMessage(ev))
		}
	}
}

// Broadcast writes a frame to every subscriber. Dead subscribers are
// removed after the pass so one failure never blocks delivery to others.
func (h *Hub) Broadcast(msg any) {
	h.mu.Lock()
	snapshot := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	var dead []*client
	for _, c := range snapshot {
		if err := c.writeJSON(msg); err != nil {
			h.log.Warn("dropping dead subscriber", "error", err)
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		h.remove(c)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// remove unregisters and closes a subscriber. Safe for repeated calls on
// the same client.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	registered := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if registered {
		close(c.done)
		_ = c.conn.Close()
		h.log.Info("websocket client disconnected", "total", h.ClientCount())
	}
}

// shutdownClients announces shutdown and closes every subscriber.
func (h *Hub) shutdownClients() {
	h.Broadcast(ShutdownMessage{Type: "server_shutdown"})

	h.mu.Lock()
	snapshot := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	for _, c := range snapshot {
		h.remove(c)
	}
}
