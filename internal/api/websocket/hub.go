package websocket

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan *userMessage

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	// Logger
	logger *logrus.Logger
}

// userMessage is a message addressed to one user's connections,
// or to everyone when userID is empty
type userMessage struct {
	userID  string
	message *Message
}

// NewHub creates a new Hub instance
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *userMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.WithField("user_id", client.userID).Info("WebSocket client connected")
			h.logger.WithField("count", h.ClientCount()).Debug("Active WebSocket clients")

			// Send connection confirmation message
			connectedMsg, err := NewMessage(MessageTypeConnected, ConnectedPayload{
				Message: "Connected to WebSocket server",
				UserID:  client.userID,
			})
			if err == nil {
				client.send <- connectedMsg
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.WithField("user_id", client.userID).Info("WebSocket client disconnected")
			}
			h.mu.Unlock()

		case um := <-h.broadcast:
			// Marshal message to JSON once
			messageBytes, err := json.Marshal(um.message)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal broadcast message")
				continue
			}

			if h.ClientCount() == 0 {
				continue
			}

			h.logger.WithFields(logrus.Fields{
				"type":    um.message.Type,
				"user_id": um.userID,
			}).Debug("Broadcasting message to clients")

			h.mu.RLock()
			for client := range h.clients {
				if um.userID != "" && client.userID != um.userID {
					continue
				}
				select {
				case client.sendRaw <- messageBytes:
				default:
					// Client's send channel is full, close the connection
					go func(c *Client) {
						h.logger.WithField("user_id", c.userID).Warn("Client send buffer full, closing connection")
						h.unregister <- c
					}(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message *Message) {
	h.broadcast <- &userMessage{message: message}
}

// BroadcastToUser sends a message to all connections of a single user
func (h *Hub) BroadcastToUser(userID string, message *Message) {
	h.broadcast <- &userMessage{userID: userID, message: message}
}

// BroadcastPayload creates a message with the given type and payload,
// then broadcasts it to one user's connections
func (h *Hub) BroadcastPayload(userID string, msgType MessageType, payload interface{}) error {
	message, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	h.BroadcastToUser(userID, message)
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RegisterClient sends a client to the register channel
func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

// UnregisterClient sends a client to the unregister channel
func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}
