// Package api serves the local HTTP surface of a device: sync status and
// trigger endpoints and a WebSocket feed of sync and connectivity events.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/attendsync/internal/logging"
	syncpkg "github.com/kimhsiao/attendsync/internal/sync"
	"github.com/kimhsiao/attendsync/internal/sync/connectivity"
	"github.com/kimhsiao/attendsync/internal/uuid"
)

// Event types delivered over the WebSocket feed.
const (
	EventSyncStarted         = "sync.started"
	EventSyncPushed          = "sync.pushed"
	EventSyncCompleted       = "sync.completed"
	EventSyncAborted         = "sync.aborted"
	EventSyncFailed          = "sync.failed"
	EventConnectivityChanged = "connectivity.changed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin accepts requests without an Origin header and origins on a
// loopback host.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Envelope wraps every message sent to a client.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu            sync.Mutex
	subscriptions map[string]bool
}

// wants reports whether the client receives eventType. A client with no
// subscriptions receives every event.
func (c *client) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[eventType]
}

type message struct {
	eventType string
	payload   []byte
}

// Hub fans events out to the connected WebSocket clients.
type Hub struct {
	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	now        func() time.Time

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a Hub. Run must be called before clients connect.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan message, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		now:        time.Now,
		clients:    make(map[string]*client),
	}
}

// Run manages client connections and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client connected", map[string]interface{}{
				"client_id": c.id,
				"total":     total,
			})

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client disconnected", map[string]interface{}{
				"client_id": c.id,
				"total":     total,
			})

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				if !c.wants(msg.eventType) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// slow client
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for every subscribed client. It never blocks;
// the event is dropped when the broadcast buffer is full.
func (h *Hub) Broadcast(eventType string, data map[string]interface{}) {
	payload, err := json.Marshal(Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: h.now().UnixMilli(),
	})
	if err != nil {
		logging.Error("Failed to marshal WebSocket message", err, map[string]interface{}{"type": eventType})
		return
	}
	select {
	case h.broadcast <- message{eventType: eventType, payload: payload}:
	default:
		logging.Warn("WebSocket broadcast buffer full, dropping event", map[string]interface{}{"type": eventType})
	}
}

// HandleSyncEvent broadcasts a sync engine event. It has the signature of
// syncpkg.EventHandler.
func (h *Hub) HandleSyncEvent(ev syncpkg.Event) {
	data := map[string]interface{}{"state": ev.State.String()}
	var eventType string
	switch ev.Type {
	case syncpkg.EventStarted:
		eventType = EventSyncStarted
	case syncpkg.EventPushed:
		eventType = EventSyncPushed
		if ev.Entry != nil {
			data["table"] = ev.Entry.Table
			data["action"] = ev.Entry.Action
			data["entity_local_id"] = ev.Entry.EntityLocalID
		}
	case syncpkg.EventCompleted:
		eventType = EventSyncCompleted
	case syncpkg.EventAborted:
		eventType = EventSyncAborted
	case syncpkg.EventFailed:
		eventType = EventSyncFailed
	default:
		return
	}
	if ev.Result != nil {
		data["processed"] = ev.Result.Processed
		data["pulled"] = ev.Result.Pulled
		data["conflicts"] = ev.Result.Conflicts
		data["errors"] = ev.Result.Errors
		data["duration_ms"] = ev.Result.Duration.Milliseconds()
	}
	if ev.Err != nil {
		data["error"] = ev.Err.Error()
	}
	h.Broadcast(eventType, data)
}

// HandleConnectivity broadcasts a connectivity change. It has the signature
// of a connectivity.Monitor OnChange handler.
func (h *Hub) HandleConnectivity(status connectivity.Status) {
	h.Broadcast(EventConnectivityChanged, map[string]interface{}{
		"status": status,
	})
}

// ServeWS upgrades the request and registers the connection with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{
		id:            uuid.New(),
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		hub:           h,
		subscriptions: make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// clientMessage is a request sent by a client.
type clientMessage struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("WebSocket read error", map[string]interface{}{
					"client_id": c.id,
					"error":     err.Error(),
				})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logging.Debug("Invalid WebSocket message", map[string]interface{}{"client_id": c.id})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subscriptions[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})
		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subscriptions, e)
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "unsubscribe_ack", "unsubscribed": msg.Events})
		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// reply queues a direct response to the client. It is dropped when the
// client has been disconnected or its buffer is full.
func (c *client) reply(body map[string]interface{}) {
	body["timestamp"] = c.hub.now().UnixMilli()
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
