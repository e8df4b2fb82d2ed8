// Package stream fans keeper state streams out to WebSocket clients.
// Every message is a JSON envelope tagged with its topic. A client that
// connects late first receives the latest message of each topic, so it never
// has to poll for the current state.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	TopicProcessing   = "processing"
	TopicCallHistory  = "call_history"
	TopicRegistration = "registration"
)

// Message is the envelope written to clients.
type Message struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Hub manages WebSocket client connections and fans out published messages.
// Register, unregister and publish all go through channels; only Run touches
// the client set.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	latest     map[string][]byte
	order      []string
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan published
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

type published struct {
	topic string
	msg   []byte
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		latest:     make(map[string][]byte),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan published, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log,
	}
}

// Run processes registrations, broadcasts and keepalive pings until ctx is
// cancelled, then closes all clients.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.Close()
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			for _, topic := range h.order {
				if !h.write(c, websocket.TextMessage, h.latest[topic]) {
					break
				}
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				_ = c.Close()
			}

		case p := <-h.broadcast:
			if _, seen := h.latest[p.topic]; !seen {
				h.order = append(h.order, p.topic)
			}
			h.latest[p.topic] = p.msg
			for c := range h.clients {
				h.write(c, websocket.TextMessage, p.msg)
			}

		case <-ping.C:
			for c := range h.clients {
				h.write(c, websocket.PingMessage, nil)
			}
		}
	}
}

// write drops c on failure. Only Run calls it.
func (h *Hub) write(c *websocket.Conn, kind int, msg []byte) bool {
	_ = c.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if err := c.WriteMessage(kind, msg); err != nil {
		delete(h.clients, c)
		_ = c.Close()
		return false
	}
	return true
}

// ServeHTTP upgrades the request and registers the connection. Incoming
// frames are read only to keep the pong handler and close detection working.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an error status.
		h.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish queues v under topic. If the hub is backed up the message is
// dropped and logged; the next message of the topic supersedes it anyway.
func (h *Hub) Publish(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("stream marshal failed", "topic", topic, "err", err)
		return
	}
	msg, err := json.Marshal(Message{Topic: topic, Data: data})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- published{topic: topic, msg: msg}:
	default:
		h.log.Warn("stream backlog full, message dropped", "topic", topic)
	}
}

// Forward publishes every value received from ch under topic until ch closes.
func Forward[T any](h *Hub, topic string, ch <-chan T) {
	for v := range ch {
		h.Publish(topic, v)
	}
}
