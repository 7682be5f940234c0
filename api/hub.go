package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 512

	sendBufferSize      = 64
	broadcastBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// hub keeps the set of connected websocket clients and fans published
// payloads out to all of them.
type hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient

	mu     sync.RWMutex
	logger *log.Logger
}

func newHub(logger *log.Logger) *hub {
	return &hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		logger:     logger,
	}
}

func (h *hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, found := h.clients[client]; found {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "id", client.id)

		case payload := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("websocket client not keeping up, dropping", "id", client.id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// publish queues a payload for broadcast without ever blocking the caller.
func (h *hub) publish(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Debug("websocket broadcast queue full, payload dropped")
	}
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// wsClient is one connected event stream consumer.
type wsClient struct {
	id   uuid.UUID
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

func (h *hub) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := &wsClient{
		id:   uuid.New(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump discards everything the client sends but keeps reading so
// close and pong control frames are processed.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, open := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !open {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
