package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/pipeline"
)

const (
	liveSendBuffer = 64
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
)

type liveClient struct {
	conn *websocket.Conn
	addr string
	send chan []byte
}

// LiveFeedHandler streams pipeline notifications to websocket clients.
// A client that cannot keep up is disconnected rather than slowing the pipeline.
type LiveFeedHandler struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*liveClient]struct{}
}

// NewLiveFeedHandler creates a new live feed handler
func NewLiveFeedHandler() *LiveFeedHandler {
	return &LiveFeedHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // auth is done by the JWT middleware
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*liveClient]struct{}),
	}
}

// SetupRoutes configures WebSocket routes
func (h *LiveFeedHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/live", h.HandleWebSocket)
}

// Listener adapts the feed to pipeline.AddListener
func (h *LiveFeedHandler) Listener() pipeline.Listener {
	return h.Broadcast
}

// ClientCount returns the number of connected clients
func (h *LiveFeedHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues n for every connected client without blocking
func (h *LiveFeedHandler) Broadcast(n pipeline.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		logging.Warnf("LiveFeed: failed to encode %s notification: %v", n.Kind, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			logging.Warnf("LiveFeed: dropping slow client %s", c.addr)
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// HandleWebSocket upgrades the request and streams notifications until the client leaves
func (h *LiveFeedHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnf("Failed to upgrade WebSocket: %v", err)
		return
	}

	c := &liveClient{conn: conn, addr: r.RemoteAddr, send: make(chan []byte, liveSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logging.Infof("Live feed client connected from %s", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

func (h *LiveFeedHandler) remove(c *liveClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump discards client messages and notices disconnects
func (h *LiveFeedHandler) readPump(c *liveClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		logging.Infof("Live feed client %s disconnected", c.addr)
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warnf("Live feed read error: %v", err)
			}
			return
		}
	}
}

func (h *LiveFeedHandler) writePump(c *liveClient) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
