package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leadsup/capture/internal/auth"
	"github.com/leadsup/capture/internal/db"
	ws "github.com/leadsup/capture/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for real-time inbox updates.
type WebSocketHandler struct {
	pool *pgxpool.Pool
	hub  *ws.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(pool *pgxpool.Pool, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		pool: pool,
		hub:  hub,
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. This server is expected to run behind a
		// reverse proxy in a trusted environment.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with the Hub.
// Authentication is via query parameter (?token=...) since browsers cannot set
// custom headers on WebSocket connections; the Authorization header works as a
// fallback for tooling that can.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			fields := strings.Fields(authHeader)
			if len(fields) >= 2 && strings.EqualFold(fields[0], "Bearer") {
				token = strings.TrimSpace(strings.Join(fields[1:], " "))
			}
		}
	}

	if token == "" {
		log.Printf("WebSocketHandler: No token provided (neither query parameter nor Authorization header)")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userEmail, err := auth.ValidateToken(token)
	if err != nil {
		log.Printf("WebSocketHandler: Token validation failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := db.GetOrCreateUser(ctx, h.pool, userEmail)
	if err != nil {
		log.Printf("WebSocketHandler: Failed to get/create user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade connection for user %s: %v", userID, err)
		return
	}

	client := h.hub.Register(userID, conn)
	if client == nil {
		log.Printf("WebSocketHandler: Connection rejected for user %s (max connections exceeded)", userID)
		return
	}

	log.Printf("WebSocketHandler: WebSocket connection established for user %s", userID)

	go h.readLoop(userID, client)
}

// readLoop reads from the WebSocket until the connection closes, then
// unregisters the client. The server never expects client messages; the loop
// exists to detect disconnects.
func (h *WebSocketHandler) readLoop(userID string, client *ws.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(userID, client)
}
