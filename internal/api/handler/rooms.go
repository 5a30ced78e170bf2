package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"supportchat/backend/internal/models"
	"supportchat/backend/internal/rooms"
	"supportchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

// GetRoom returns a room with its transcript. Shoppers may only read their own.
func (h *Handler) GetRoom(c *gin.Context) {
	id := identityFrom(c)
	room, err := h.Registry.Get(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !id.IsAdmin && room.Shopper.ID != id.ID {
		abortWithError(c, fmt.Errorf("%s may not read room %s: %w", id.ID, room.RoomID, rooms.ErrUnauthorized))
		return
	}
	c.JSON(http.StatusOK, models.RoomPayload{Room: room})
}

// ListInactiveRooms pages through finished rooms.
func (h *Handler) ListInactiveRooms(c *gin.Context) {
	page, err := pageFrom(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	list, err := h.Listing.FinishedRooms(c.Request.Context(), page)
	if err != nil {
		abortWithError(c, fmt.Errorf("list finished rooms: %v: %w", err, rooms.ErrPersistence))
		return
	}
	c.JSON(http.StatusOK, models.RoomsPayload{Rooms: list})
}

func pageFrom(c *gin.Context) (storage.Page, error) {
	var p storage.Page
	for key, dst := range map[string]*int{"page": &p.Page, "pageSize": &p.PageSize} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return storage.Page{}, fmt.Errorf("%s must be a number: %w", key, rooms.ErrInvalidRequest)
		}
		*dst = n
	}
	return p.Normalize(), nil
}

// Presence reports how many admins are online across instances.
func (h *Handler) Presence(c *gin.Context) {
	n, err := h.Listing.OnlineAdmins(c.Request.Context())
	if err != nil {
		abortWithError(c, fmt.Errorf("online admins: %v: %w", err, rooms.ErrPersistence))
		return
	}
	c.JSON(http.StatusOK, gin.H{"onlineAdmins": n})
}
