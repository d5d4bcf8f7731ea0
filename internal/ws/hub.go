package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/obsidianstack/sentinel/internal/alert"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; CORS belongs at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event names carried in Message.Event.
const (
	EventStatus     = "status"
	EventAlert      = "alert"
	EventMessage    = "message"
	EventPipeline   = "pipeline"
	EventDeployment = "deployment"
	EventReport     = "report"
)

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// StatusFunc returns the snapshot sent on connect and on every tick.
type StatusFunc func() any

// Hub manages WebSocket client connections.
type Hub struct {
	status   StatusFunc
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that broadcasts status() every interval. status may be
// nil, in which case only events are streamed.
func New(status StatusFunc, interval time.Duration) *Hub {
	return &Hub{
		status:   status,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts the status snapshot every interval until ctx is cancelled,
// then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	if h.status == nil || h.interval <= 0 {
		<-ctx.Done()
		h.closeAll()
		return
	}

	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if data, err := h.statusMessage(); err == nil {
				h.broadcast(data)
			}
		}
	}
}

// ServeHTTP upgrades the connection and serves the client until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	if data, err := h.statusMessage(); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- notify.Notifier --------------------------------------------------------

// Name implements notify.Notifier.
func (h *Hub) Name() string { return "websocket" }

// Send implements notify.Notifier.
func (h *Hub) Send(_ context.Context, text string) error {
	return h.publish(EventMessage, map[string]string{"text": text})
}

// SendAlert implements notify.Notifier.
func (h *Hub) SendAlert(_ context.Context, a alert.Alert) error {
	return h.publish(EventAlert, a)
}

// SendPipelineStatus implements notify.Notifier.
func (h *Hub) SendPipelineStatus(_ context.Context, s alert.PipelineStatus) error {
	return h.publish(EventPipeline, s)
}

// SendDeployment implements notify.Notifier.
func (h *Hub) SendDeployment(_ context.Context, d alert.Deployment) error {
	return h.publish(EventDeployment, d)
}

// SendDailyReport implements notify.Notifier.
func (h *Hub) SendDailyReport(_ context.Context, r alert.DailyReport) error {
	return h.publish(EventReport, r)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) publish(event string, data any) error {
	b, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("ws: marshal %s: %w", event, err)
	}
	h.broadcast(b)
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Debug().Int("clients", h.Count()).Msg("ws: client connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast queues data for every client. Sends happen under the read lock so
// unregister cannot close a channel mid-send; clients whose buffer is full
// are disconnected afterwards.
func (h *Hub) broadcast(data []byte) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Msg("ws: client too slow, disconnecting")
		h.unregister(c)
	}
}

func (h *Hub) statusMessage() ([]byte, error) {
	if h.status == nil {
		return nil, fmt.Errorf("ws: no status source")
	}
	return json.Marshal(Message{Event: EventStatus, Data: h.status()})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// connection, sending periodic pings. Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles control frames and detects disconnects. Blocks until the
// connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
