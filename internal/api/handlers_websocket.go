package api

import (
	"fmt"
	"net/http"

	ws "github.com/Flowdeck-Labs/flowdeck-node/internal/api/websocket"
)

// handleWebSocket handles WebSocket connection upgrades with JWT authentication
func (s *APIServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on WebSocket requests, the token
	// travels as a query parameter instead
	token := r.URL.Query().Get("token")
	if token == "" {
		s.logger.Warn("WebSocket connection attempt without token", "api")
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("WebSocket authentication failed: %v", err), "api")
		http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(fmt.Sprintf("WebSocket upgrade failed: %v", err), "api")
		return
	}

	client := ws.NewClient(conn, s.wsHub, claims.UserID, s.wsLogger)

	// Register client with hub (via register channel)
	s.wsHub.RegisterClient(client)

	// Start client's read and write pumps
	client.Start()
}
