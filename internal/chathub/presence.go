package chathub

import (
	"context"

	"supportchat/backend/internal/models"
	"supportchat/backend/internal/rooms"
	"supportchat/backend/internal/storage"
)

// PresenceService is the read side for admin dashboards. Live lists come from
// the registry; finished rooms come from the store.
type PresenceService struct {
	registry *rooms.Registry
	store    storage.Storage
	online   storage.Presence
}

// NewPresenceService builds the listing service. online may be nil.
func NewPresenceService(registry *rooms.Registry, store storage.Storage, online storage.Presence) *PresenceService {
	return &PresenceService{registry: registry, store: store, online: online}
}

func (p *PresenceService) WaitingRooms() []models.Room {
	return p.registry.ListWaitingRooms()
}

func (p *PresenceService) MyActiveRooms(adminID string) []models.Room {
	return p.registry.ListActiveRoomsForAdmin(adminID)
}

// Owns reports whether adminID is the assigned admin of an active room.
func (p *PresenceService) Owns(adminID, roomID string) bool {
	for _, room := range p.registry.ListActiveRoomsForAdmin(adminID) {
		if room.RoomID == roomID {
			return true
		}
	}
	return false
}

// FinishedRooms pages through finished rooms, most recent first.
func (p *PresenceService) FinishedRooms(ctx context.Context, page storage.Page) ([]models.Room, error) {
	return p.store.ListFinished(ctx, page)
}

// OnlineAdmins counts admins connected across all instances.
func (p *PresenceService) OnlineAdmins(ctx context.Context) (int64, error) {
	if p.online == nil {
		return 0, nil
	}
	return p.online.OnlineCount(ctx, models.RoleAdmin)
}
