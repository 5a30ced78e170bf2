package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"supportchat/backend/internal/models"
)

// MemoryStore keeps rooms and transcripts in process memory. It backs the
// "memory" store driver and the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]models.Room
	messages map[string][]models.Message
	seen     map[string]struct{}
	online   map[models.Role]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]models.Room),
		messages: make(map[string][]models.Message),
		seen:     make(map[string]struct{}),
		online:   make(map[models.Role]map[string]struct{}),
	}
}

func (m *MemoryStore) SaveRoom(_ context.Context, room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.RoomID] = room.Summary()
	return nil
}

func (m *MemoryStore) CreateRoom(_ context.Context, room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[room.RoomID]; ok {
		return ErrRoomExists
	}
	m.rooms[room.RoomID] = room.Summary()
	return nil
}

func (m *MemoryStore) ClaimRoom(_ context.Context, roomID string, admin models.Participant, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if r.State != models.RoomWaiting {
		return ErrStateConflict
	}
	r.State = models.RoomActive
	r.Admin = &models.Participant{ID: admin.ID, Name: admin.Name, Role: models.RoleAdmin}
	r.UpdatedAt = at.UTC()
	m.rooms[roomID] = r
	return nil
}

func (m *MemoryStore) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(roomID)
}

func (m *MemoryStore) getLocked(roomID string) (*models.Room, error) {
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	out := r.Summary()
	out.Messages = append([]models.Message{}, m.messages[roomID]...)
	return &out, nil
}

func (m *MemoryStore) FindOpenRoomForShopper(_ context.Context, shopperID string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.Room
	for id, r := range m.rooms {
		if r.Shopper.ID != shopperID || r.State == models.RoomFinished {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			found, _ = m.getLocked(id)
		}
	}
	return found, nil
}

func (m *MemoryStore) CountRoomsForShopper(_ context.Context, shopperID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, r := range m.rooms {
		if r.Shopper.ID == shopperID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListOpenRooms(_ context.Context) ([]models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Room
	for id, r := range m.rooms {
		if r.State == models.RoomFinished {
			continue
		}
		room, _ := m.getLocked(id)
		out = append(out, *room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) Append(_ context.Context, roomID string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.RoomID = roomID
	key := msg.DedupeKey()
	if _, dup := m.seen[key]; dup {
		return nil
	}
	m.seen[key] = struct{}{}

	msgs := append(m.messages[roomID], msg)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].SentAt.Before(msgs[j].SentAt) })
	m.messages[roomID] = msgs

	if r, ok := m.rooms[roomID]; ok && r.UpdatedAt.Before(msg.SentAt) {
		r.UpdatedAt = msg.SentAt
		m.rooms[roomID] = r
	}
	return nil
}

func (m *MemoryStore) GetHistory(_ context.Context, roomID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Message{}, m.messages[roomID]...), nil
}

func (m *MemoryStore) MarkFinished(_ context.Context, roomID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if r.State != models.RoomActive {
		return ErrStateConflict
	}
	r.State = models.RoomFinished
	r.UpdatedAt = at.UTC()
	m.rooms[roomID] = r
	return nil
}

func (m *MemoryStore) ListFinished(_ context.Context, page Page) ([]models.Room, error) {
	page = page.Normalize()
	m.mu.RLock()
	var all []models.Room
	for id, r := range m.rooms {
		if r.State == models.RoomFinished {
			room, _ := m.getLocked(id)
			all = append(all, *room)
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if page.Offset() >= len(all) {
		return []models.Room{}, nil
	}
	end := page.Offset() + page.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[page.Offset():end], nil
}

func (m *MemoryStore) MarkOnline(_ context.Context, role models.Role, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online[role] == nil {
		m.online[role] = make(map[string]struct{})
	}
	m.online[role][userID] = struct{}{}
	return nil
}

func (m *MemoryStore) MarkOffline(_ context.Context, role models.Role, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.online[role], userID)
	return nil
}

func (m *MemoryStore) OnlineCount(_ context.Context, role models.Role) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.online[role])), nil
}
