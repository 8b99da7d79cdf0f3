package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apexhq/apex/internal/events"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingPeriod must stay below pongWait.
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// wsRequest is what clients send: subscribe to a task's events (use "*"
// for everything), unsubscribe, or ping.
type wsRequest struct {
	Type   string `json:"type"` // subscribe, unsubscribe, ping
	TaskID string `json:"task_id,omitempty"`
}

// wsEvent is the frame sent for every forwarded bus event.
type wsEvent struct {
	Type   string    `json:"type"` // event
	Event  string    `json:"event"`
	TaskID string    `json:"task_id"`
	Data   any       `json:"data,omitempty"`
	Time   time.Time `json:"time"`
}

// WSHandler upgrades connections and bridges the event bus onto them.
type WSHandler struct {
	upgrader  websocket.Upgrader
	publisher events.Publisher
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

// wsConn is one client connection and its current subscription.
type wsConn struct {
	sock *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	taskID string
	events <-chan events.Event
}

// NewWSHandler creates the WebSocket bridge over the given publisher.
func NewWSHandler(pub events.Publisher, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		publisher: pub,
		logger:    logger,
		conns:     make(map[*wsConn]struct{}),
	}
}

// ServeHTTP upgrades the request and starts the read and write pumps.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		sock: sock,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go h.readPump(c)
	go h.writePump(c)
}

func (h *WSHandler) readPump(c *wsConn) {
	defer h.drop(c)

	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		h.handle(c, raw)
	}
}

func (h *WSHandler) writePump(c *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handle(c *wsConn, raw []byte) {
	var req wsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.sendJSON(c, map[string]any{"type": "error", "error": "invalid message"})
		return
	}

	switch req.Type {
	case "subscribe":
		if req.TaskID == "" {
			h.sendJSON(c, map[string]any{"type": "error", "error": `task_id required; use "*" for all tasks`})
			return
		}
		h.unsubscribe(c)

		c.mu.Lock()
		c.taskID = req.TaskID
		c.events = h.publisher.Subscribe(req.TaskID)
		ch := c.events
		c.mu.Unlock()

		go h.forward(c, ch)
		h.sendJSON(c, map[string]any{"type": "subscribed", "task_id": req.TaskID})

	case "unsubscribe":
		h.unsubscribe(c)
		h.sendJSON(c, map[string]any{"type": "unsubscribed"})

	case "ping":
		h.sendJSON(c, map[string]any{"type": "pong"})

	default:
		h.sendJSON(c, map[string]any{"type": "error", "error": "unknown message type: " + req.Type})
	}
}

// forward copies bus events onto the connection until the subscription
// channel closes or the connection goes away.
func (h *WSHandler) forward(c *wsConn, ch <-chan events.Event) {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.sendJSON(c, wsEvent{
				Type:   "event",
				Event:  string(ev.Type),
				TaskID: ev.TaskID,
				Data:   ev.Data,
				Time:   ev.Time,
			})
		}
	}
}

func (h *WSHandler) unsubscribe(c *wsConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events != nil {
		h.publisher.Unsubscribe(c.taskID, c.events)
		c.taskID = ""
		c.events = nil
	}
}

func (h *WSHandler) drop(c *wsConn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	h.mu.Unlock()

	h.unsubscribe(c)
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	_ = c.sock.Close()
}

func (h *WSHandler) sendJSON(c *wsConn, data any) {
	msg, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("websocket marshal failed", "error", err)
		return
	}
	select {
	case c.send <- msg:
	default:
		// Slow consumer; drop rather than block the bus.
		h.logger.Warn("websocket send buffer full, dropping message")
	}
}

// ConnectionCount reports active connections.
func (h *WSHandler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close drops every connection.
func (h *WSHandler) Close() {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.drop(c)
	}
}
