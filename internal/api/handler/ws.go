package handler

import (
	"net/http"

	"supportchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The storefront and admin panel are served from other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket authenticates the bearer and upgrades to the /room
// connection. Invalid credentials never reach the controller.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	id, err := h.Auth.Authenticate(tokenFrom(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		zap.S().Warnw("failed to upgrade connection", "user_id", id.ID, "error", err)
		return
	}

	client := chathub.NewWebSocketClient(conn, id.Participant(), h.Controller,
		rate.NewLimiter(h.MessageRate, h.MessageBurst))
	h.Controller.Connect(client)
	client.Run()
}
