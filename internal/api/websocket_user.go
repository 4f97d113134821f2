package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"social-automation-dashboard/internal/auth"
	"social-automation-dashboard/internal/events"
	"social-automation-dashboard/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer and the token check
	CheckOrigin: func(r *http.Request) bool { return true },
}

// UserWSClient represents a user-specific WebSocket client
type UserWSClient struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *UserWSHub
	userID    string
	closeChan chan struct{}
}

// UserWSHub fans events out to the dashboards of their principal. System
// wide events (no user id) go to every client.
type UserWSHub struct {
	clients     map[*UserWSClient]bool
	userClients map[string]map[*UserWSClient]bool
	broadcast   chan []byte
	userCast    chan userMessage
	register    chan *UserWSClient
	unregister  chan *UserWSClient
	stop        chan struct{}
	stopOnce    sync.Once
	mu          sync.RWMutex
	logger      zerolog.Logger
}

type userMessage struct {
	userID string
	data   []byte
}

// NewUserWSHub creates a new user-aware WebSocket hub
func NewUserWSHub(logger zerolog.Logger) *UserWSHub {
	return &UserWSHub{
		clients:     make(map[*UserWSClient]bool),
		userClients: make(map[string]map[*UserWSClient]bool),
		broadcast:   make(chan []byte, sendBuffer),
		userCast:    make(chan userMessage, sendBuffer),
		register:    make(chan *UserWSClient),
		unregister:  make(chan *UserWSClient),
		stop:        make(chan struct{}),
		logger:      logger.With().Str("component", "UserWSHub").Logger(),
	}
}

// Attach relays every bus event to the sockets of its principal
func (h *UserWSHub) Attach(bus *events.EventBus) {
	bus.SubscribeAll(func(e events.Event) {
		if e.UserID == "" {
			h.BroadcastToAll(e)
			return
		}
		h.BroadcastToUser(e.UserID, e)
	})
}

// Run owns the client maps until Stop is called
func (h *UserWSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.userClients[client.userID] == nil {
				h.userClients[client.userID] = make(map[*UserWSClient]bool)
			}
			h.userClients[client.userID][client] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				h.deliver(client, message)
			}
			h.mu.Unlock()

		case msg := <-h.userCast:
			h.mu.Lock()
			for client := range h.userClients[msg.userID] {
				h.deliver(client, msg.data)
			}
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every client and ends Run
func (h *UserWSHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// deliver queues a message; a client whose buffer is full is dropped.
// Callers hold h.mu.
func (h *UserWSHub) deliver(client *UserWSClient, data []byte) {
	select {
	case client.send <- data:
	default:
		h.logger.Warn().Str("user_id", client.userID).Msg("WebSocket client too slow, dropping connection")
		h.remove(client)
	}
}

// remove forgets a client and closes its send channel. Callers hold h.mu.
func (h *UserWSHub) remove(client *UserWSClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if userClients, ok := h.userClients[client.userID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.userClients, client.userID)
		}
	}
	close(client.send)
	metrics.WebSocketClients.Dec()
}

// BroadcastToUser sends an event to a specific user's connections
func (h *UserWSHub) BroadcastToUser(userID string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to marshal user event")
		return
	}

	select {
	case h.userCast <- userMessage{userID: userID, data: data}:
	default:
		h.logger.Warn().Str("user_id", userID).Msg("User broadcast channel full, dropping message")
	}
}

// BroadcastToAll sends an event to all connected clients
func (h *UserWSHub) BroadcastToAll(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to marshal event")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Msg("Broadcast channel full, dropping message")
	}
}

// GetUserClientCount returns the number of connected clients for a user
func (h *UserWSHub) GetUserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userID])
}

// GetTotalClientCount returns the total number of connected clients
func (h *UserWSHub) GetTotalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetConnectedUsers returns a list of user IDs with active connections
func (h *UserWSHub) GetConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.userClients))
	for userID := range h.userClients {
		users = append(users, userID)
	}
	return users
}

// writePump pumps messages from the hub to the websocket connection
func (c *UserWSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// readPump only watches for the peer going away; clients never send commands
func (c *UserWSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
		close(c.closeChan)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Str("user_id", c.userID).Msg("WebSocket read error")
			}
			return
		}
	}
}

// ServeUser upgrades the request and attaches the socket to userID
func (h *UserWSHub) ServeUser(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to upgrade connection")
		return
	}

	client := &UserWSClient{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		hub:       h,
		userID:    userID,
		closeChan: make(chan struct{}),
	}

	// Queue the greeting before registering so it is the first frame
	welcome, _ := json.Marshal(map[string]interface{}{
		"type":      "CONNECTED",
		"message":   "WebSocket connection established",
		"timestamp": time.Now().UTC(),
		"user_id":   userID,
	})
	client.send <- welcome

	select {
	case h.register <- client:
	case <-h.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// handleUserWebSocket serves /ws/user for the authenticated principal
func (s *Server) handleUserWebSocket(c *gin.Context) {
	s.hub.ServeUser(c.Writer, c.Request, auth.GetUserID(c))
}
