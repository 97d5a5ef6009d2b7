package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liker0704/telegram-signals-parisng/pkg/events"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
	"github.com/liker0704/telegram-signals-parisng/pkg/metrics"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsStatusEvery  = 5 * time.Second
)


// WSClient represents a connected WebSocket client.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub manages WebSocket connections and broadcasts events.
type WSHub struct {
	server     *Server
	clients    map[*WSClient]bool
	broadcast  chan events.Event
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(server *Server) *WSHub {
	h := &WSHub{
		server:     server,
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan events.Event, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browser origins matching the CORS allow-list. Browsers do not
// apply CORS to WebSocket upgrades, so the list is enforced here.
func (h *WSHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, pattern := range h.server.allowedOrigins() {
		if originMatches(pattern, origin) {
			return true
		}
	}
	logger.WarnCF("ws", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
	return false
}

// originMatches applies a CORS-style pattern with at most one "*" wildcard.
func originMatches(pattern, origin string) bool {
	pattern = strings.ToLower(pattern)
	origin = strings.ToLower(origin)
	if pattern == "*" {
		return true
	}
	prefix, suffix, wildcard := strings.Cut(pattern, "*")
	if !wildcard {
		return pattern == origin
	}
	return len(origin) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix)
}

// Run starts the hub's main loop.
func (h *WSHub) Run(ctx context.Context) {
	statusTicker := time.NewTicker(wsStatusEvery)
	defer statusTicker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.WSClients.Inc()
			logger.DebugC("ws", "Client connected")
			h.sendInitialState(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
			h.mu.Unlock()
			logger.DebugC("ws", "Client disconnected")

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client too slow, drop
					h.drop(client)
				}
			}
			h.mu.Unlock()

		case <-statusTicker.C:
			h.broadcastStatus(ctx)
		}
	}
}

// drop removes a client. Caller holds h.mu.
func (h *WSHub) drop(client *WSClient) {
	close(client.send)
	delete(h.clients, client)
	metrics.WSClients.Dec()
}

// Broadcast sends an event to all connected clients. Never blocks.
func (h *WSHub) Broadcast(event events.Event) {
	select {
	case h.broadcast <- event:
	default:
		// Channel full, drop event
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles WebSocket upgrade requests. The upgrade request
// passes through the auth middleware like any other route.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("ws", "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *WSHub) sendInitialState(client *WSClient) {
	state := h.status(context.Background())
	state["uptime_seconds"] = int(time.Since(h.server.startTime).Seconds())

	data, err := json.Marshal(events.New("initial_state", "api", state))
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *WSHub) broadcastStatus(ctx context.Context) {
	h.mu.RLock()
	clientCount := len(h.clients)
	h.mu.RUnlock()

	if clientCount == 0 {
		return
	}
	h.Broadcast(events.New(events.SystemHealth, "api", h.status(ctx)))
}

func (h *WSHub) status(ctx context.Context) map[string]interface{} {
	if h.server.deps.Status == nil {
		return map[string]interface{}{}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.server.deps.Status.Status(ctx)
}

// --- Client methods ---

func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
