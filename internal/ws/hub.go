// Package ws pushes job events to browser clients over websockets.
package ws

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
)

// Message types.
const (
	TypeProgress = "progress"
	TypeError    = "error"
	TypeState    = "state"
	TypeResult   = "result"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// WSMessage is the envelope for every event sent to clients.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ProgressPayload reports per-entry progress of a download job.
type ProgressPayload struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename,omitempty"`
	Percent  float64 `json:"percent"`
	Status   string  `json:"status"`
	Category string  `json:"category,omitempty"`
}

type ErrorPayload struct {
	ID       string `json:"id"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
	Code     int    `json:"code"`
}

// StatePayload reports a capture state transition of a search job.
type StatePayload struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// ResultPayload carries the final status line of a job.
type ResultPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan WSMessage
}

// Hub tracks connected clients and fans broadcasts out to them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan WSMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
	log        capture.Logger
}

func NewHub(log capture.Logger) *Hub {
	if log == nil {
		log = nopLogger{}
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan WSMessage, 1024),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run dispatches registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.log.Log(capture.LogWarn, "ws: client too slow, disconnecting")
					c.conn.Close()
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Log(capture.LogWarn, "ws upgrade: "+err.Error())
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan WSMessage, 64)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Broadcast queues msg for every client. It never blocks; a full queue
// drops the message.
func (h *Hub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Log(capture.LogWarn, "ws: broadcast queue full, dropping "+msg.Type)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			c.hub.log.Log(capture.LogDebug, "ws write: "+err.Error())
			return
		}
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// sameOrigin accepts requests without an Origin header and those whose
// origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

type nopLogger struct{}

func (nopLogger) Log(capture.LogLevel, string) {}
