// Package websocket streams per-tenant graph change events to browser
// clients.
package websocket

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/onaplatform/ona-api/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	readDeadline  = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256
)

// Event types sent to clients.
const (
	EventWelcome       = "welcome"
	EventGraphUpdated  = "graph_updated"
	EventGraphDeleted  = "graph_deleted"
	EventSourceAdded   = "source_added"
	EventSourceRemoved = "source_removed"
	EventPong          = "pong"
)

// Message is the envelope of every frame.
type Message struct {
	Type      string      `json:"type"`
	TenantID  string      `json:"tenant_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Client is one websocket connection subscribed to a single tenant.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	tenantID string
}

type outbound struct {
	tenantID string
	data     []byte
}

// Hub fans tenant events out to subscribed clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewHub creates a hub. allowedOrigins are wildcard patterns matched against
// the Origin header; "*" accepts any origin. Requests without an Origin
// header (non-browser clients) are always accepted.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

func originAllowed(patterns []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, p := range patterns {
		if p == "*" || strings.EqualFold(p, origin) || wildcard.Match(p, origin) {
			return true
		}
	}
	return false
}

// Run is the hub's main loop. It returns when ctx is done, after closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				metrics.StreamClients.Dec()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.StreamClients.Inc()
			log.Info().Str("client", client.id).Str("tenant", client.tenantID).Msg("Graph stream client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.StreamClients.Dec()
				log.Info().Str("client", client.id).Str("tenant", client.tenantID).Msg("Graph stream client disconnected")
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.tenantID != msg.tenantID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer; drop it rather than block every tenant.
					delete(h.clients, client)
					close(client.send)
					metrics.StreamClients.Dec()
					log.Warn().Str("client", client.id).Msg("Graph stream client too slow, dropping")
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeTenant upgrades the request and subscribes the connection to
// tenantID's events. The caller has already authorised the tenant.
func (h *Hub) ServeTenant(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Failed to upgrade graph stream connection")
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		id:       ulid.Make().String(),
		tenantID: tenantID,
	}
	if welcome, err := encode(EventWelcome, tenantID, map[string]string{"client_id": client.id}); err == nil {
		client.send <- welcome
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

// Publish queues an event for every client of tenantID. It never blocks; a
// full queue drops the event.
func (h *Hub) Publish(tenantID, eventType string, data interface{}) {
	payload, err := encode(eventType, tenantID, data)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("Failed to marshal graph stream event")
		return
	}
	select {
	case h.broadcast <- outbound{tenantID: tenantID, data: payload}:
	default:
		log.Warn().Str("type", eventType).Str("tenant", tenantID).Msg("Graph stream broadcast channel full")
	}
}

// ClientCount returns the number of clients for tenantID, or of all
// tenants when tenantID is empty.
func (h *Hub) ClientCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if tenantID == "" {
		return len(h.clients)
	}
	n := 0
	for c := range h.clients {
		if c.tenantID == tenantID {
			n++
		}
	}
	return n
}

func encode(eventType, tenantID string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{
		Type:      eventType,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Data:      sanitizeData(data),
	})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("Graph stream read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("Ignoring malformed graph stream frame")
			continue
		}
		if msg.Type == "ping" {
			if pong, err := encode(EventPong, c.tenantID, nil); err == nil {
				// Unregistered clients have a closed send channel; Run
				// owns that, so only enqueue while still registered.
				c.hub.mu.RLock()
				if c.hub.clients[c] {
					select {
					case c.send <- pong:
					default:
					}
				}
				c.hub.mu.RUnlock()
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("Graph stream write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sanitizeData replaces NaN/Inf floats with nil in the map and slice shapes
// events use. Struct payloads implement MarshalJSON where they need to.
func sanitizeData(data interface{}) interface{} {
	switch v := data.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil
		}
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = sanitizeData(val)
		}
		return out
	case map[string]float64:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = sanitizeData(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = sanitizeData(val)
		}
		return out
	case []float64:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = sanitizeData(val)
		}
		return out
	default:
		return v
	}
}
