package handler

import (
	"errors"
	"net/http"

	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/metrics"
	"supportchat/backend/internal/rooms"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Handler holds what the HTTP and websocket endpoints need.
type Handler struct {
	Controller *chathub.Controller
	Registry   *rooms.Registry
	Listing    *chathub.PresenceService
	Auth       auth.Authenticator
	Metrics    *metrics.Metrics

	// Per-connection inbound request budget.
	MessageRate  rate.Limit
	MessageBurst int
}

func NewHandler(ctrl *chathub.Controller, registry *rooms.Registry, listing *chathub.PresenceService, authn auth.Authenticator) *Handler {
	return &Handler{
		Controller:   ctrl,
		Registry:     registry,
		Listing:      listing,
		Auth:         authn,
		MessageRate:  5,
		MessageBurst: 10,
	}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/room", h.ServeWebSocket)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	api := r.Group("/api/v1", h.RequireAuth())
	api.GET("/rooms/get_by/:roomId", h.GetRoom)
	api.GET("/rooms/innactive", h.RequireAdmin(), h.ListInactiveRooms)
	api.GET("/presence", h.Presence)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rooms.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rooms.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, rooms.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, rooms.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{
		"error": gin.H{"code": rooms.Code(err), "message": rooms.PublicMessage(err)},
	})
}
