package handlers

import (
	"context"
	"net/http"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/auth"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/hub"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Connector receives every connection once it is registered with the hub.
type Connector interface {
	Connect(ctx context.Context, client *hub.Client)
}

type WebSocketHandler struct {
	hub      *hub.Hub
	presence Connector
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewWebSocketHandler accepts any origin when allowedOrigin is empty or "*".
func NewWebSocketHandler(h *hub.Hub, p Connector, allowedOrigin string, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      h,
		presence: p,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		logger: logger.With().Str("component", "ws-handler").Logger(),
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetIdentity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID := uuid.New().String()
	client := hub.NewClient(clientID, identity.UserID, identity.Username, conn, h.hub, h.logger)

	h.hub.Register(client)
	h.presence.Connect(r.Context(), client)

	h.logger.Info().
		Str("clientId", clientID).
		Str("userId", identity.UserID).
		Str("remoteAddr", r.RemoteAddr).
		Msg("WebSocket connection established")

	go client.WritePump()
	go client.ReadPump()
}
