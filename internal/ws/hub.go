// Package ws fans catalog events out to websocket clients, one hub per route.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"vexekhach/internal/metrics"
)

const (
	EventBusCreated   = "bus_created"
	EventSeatsCreated = "seats_created"

	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Event is the envelope of every message pushed to clients.
type Event struct {
	Type    string `json:"type"`
	RouteID string `json:"route_id"`
	Data    any    `json:"data"`
}

// Connection represents a websocket connection to a client
type Connection struct {
	Conn    *websocket.Conn
	Send    chan []byte
	RouteID string
}

func NewConnection(conn *websocket.Conn, routeID string) *Connection {
	return &Connection{Conn: conn, Send: make(chan []byte, sendBuffer), RouteID: routeID}
}

// RouteHub maintains the set of active connections for a route and broadcasts messages
type RouteHub struct {
	RouteID    string
	conns      map[*Connection]bool
	register   chan *Connection
	unregister chan *Connection
	broadcast  chan []byte
	done       chan struct{}
	stopped    chan struct{}
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
}

// Registry owns the hubs of one process.
type Registry struct {
	mu      sync.Mutex
	hubs    map[string]*RouteHub
	closed  bool
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewRegistry(log logrus.FieldLogger, m *metrics.Metrics) *Registry {
	return &Registry{hubs: make(map[string]*RouteHub), log: log, metrics: m}
}

// Hub returns the hub for a route, creating it if necessary. It returns nil
// once the registry is closed.
func (r *Registry) Hub(routeID string) *RouteHub {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if h, ok := r.hubs[routeID]; ok {
		return h
	}
	h := &RouteHub{
		RouteID:    routeID,
		conns:      make(map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan []byte),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		log:        r.log.WithField("route_id", routeID),
		metrics:    r.metrics,
	}
	r.hubs[routeID] = h
	go h.run()
	return h
}

// Publish sends an event to everyone watching the route. Routes nobody
// watches are skipped.
func (r *Registry) Publish(routeID, eventType string, data any) {
	r.mu.Lock()
	h, ok := r.hubs[routeID]
	r.mu.Unlock()
	if !ok {
		return
	}
	b, err := json.Marshal(Event{Type: eventType, RouteID: routeID, Data: data})
	if err != nil {
		r.log.WithError(err).Error("encode feed event")
		return
	}
	h.Broadcast(b)
}

// Close stops every hub and closes the send side of every connection.
func (r *Registry) Close() {
	r.mu.Lock()
	hubs := r.hubs
	r.hubs = map[string]*RouteHub{}
	r.closed = true
	r.mu.Unlock()

	for _, h := range hubs {
		close(h.done)
		<-h.stopped
	}
}

// Join adds c to the hub. It reports false if the hub is shutting down.
func (h *RouteHub) Join(c *Connection) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *RouteHub) Leave(c *Connection) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *RouteHub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *RouteHub) run() {
	defer close(h.stopped)
	for {
		select {
		case c := <-h.register:
			h.conns[c] = true
			h.metrics.FeedClientDelta(1)
			h.log.Debug("feed client joined")
		case c := <-h.unregister:
			h.drop(c)
			h.log.Debug("feed client left")
		case msg := <-h.broadcast:
			for c := range h.conns {
				select {
				case c.Send <- msg:
				default:
					// slow consumer
					h.drop(c)
				}
			}
		case <-h.done:
			for c := range h.conns {
				h.drop(c)
			}
			return
		}
	}
}

func (h *RouteHub) drop(c *Connection) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	h.metrics.FeedClientDelta(-1)
	close(c.Send)
}

// StartRead drains client frames so control messages are processed. The
// feed is read-only; anything the client sends is ignored.
func (c *Connection) StartRead(hub *RouteHub) {
	defer func() {
		hub.Leave(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(512)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

// StartWrite writes messages from the Send channel to the websocket
func (c *Connection) StartWrite() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
