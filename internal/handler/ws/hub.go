package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
	"FuturesPilot/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

const (
	EventConnected = "connected"
	EventAlert     = "alert"
	EventSwitch    = "switch"
)

// Event is the frame pushed to every subscriber.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub streams alerts and strategy switches to websocket subscribers. The Run
// goroutine owns the client set; everything else talks to it over channels.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	clients    atomic.Int64
}

var _ repository.Notifier = (*Hub)(nil)

// NewHub creates a hub. allowedOrigins empty accepts any origin.
func NewHub(log *logger.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		log:        log,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 1024),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Run serves the hub until ctx is cancelled, then closes every connection.
// It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	clients := make(map[*client]struct{})
	drop := func(c *client) {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			close(c.send)
			h.clients.Store(int64(len(clients)))
		}
	}

	for {
		select {
		case <-ctx.Done():
			for c := range clients {
				drop(c)
			}
			return
		case c := <-h.register:
			clients[c] = struct{}{}
			h.clients.Store(int64(len(clients)))
		case c := <-h.unregister:
			drop(c)
		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					h.log.Warn("websocket subscriber too slow, disconnecting")
					drop(c)
				}
			}
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int { return int(h.clients.Load()) }

// Notify implements repository.Notifier.
func (h *Hub) Notify(_ context.Context, alert models.Alert) error {
	h.Publish(EventAlert, alert)
	return nil
}

// PublishSwitch forwards a strategy switch to subscribers.
func (h *Hub) PublishSwitch(ev models.SwitchEvent) {
	h.Publish(EventSwitch, ev)
}

// Publish queues an event for every subscriber. Events are dropped when the
// broadcast queue is full.
func (h *Hub) Publish(typ string, data interface{}) {
	payload, err := json.Marshal(Event{Type: typ, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		h.log.Error("websocket event marshal failed", logger.String("type", typ), logger.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn("websocket broadcast queue full, dropping event", logger.String("type", typ))
	}
}

// Handle upgrades GET /ws/alerts.
func (h *Hub) Handle(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- cl:
	case <-h.done:
		_ = conn.Close()
		return nil
	}

	if hello, err := json.Marshal(Event{Type: EventConnected, Timestamp: time.Now().UTC()}); err == nil {
		select {
		case cl.send <- hello:
		default:
		}
	}

	go h.writePump(cl)
	go h.readPump(cl)
	return nil
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("websocket write failed", logger.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only watches for pongs and close frames; subscribers never send.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read failed", logger.Error(err))
			}
			return
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
