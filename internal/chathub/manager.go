package chathub

import (
	"context"
	"sync"
	"time"

	"supportchat/backend/internal/metrics"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RoomSyncer reloads a room another instance changed.
type RoomSyncer interface {
	Sync(ctx context.Context, roomID string) error
}

// ManagerService tracks the connections held by this instance and routes
// bus deliveries to them. A user holds at most one connection; a newer one
// replaces the older.
type ManagerService struct {
	mu      sync.RWMutex
	clients map[string]Client
	syncer  RoomSyncer

	id       string
	bus      EventBus
	presence storage.Presence
	metrics  *metrics.Metrics
}

// NewManagerService builds the hub. presence and m may be nil.
func NewManagerService(bus EventBus, presence storage.Presence, m *metrics.Metrics) *ManagerService {
	return &ManagerService{
		clients:  make(map[string]Client),
		id:       uuid.NewString(),
		bus:      bus,
		presence: presence,
		metrics:  m,
	}
}

// SetRoomSyncer makes Run reload rooms named by deliveries from other
// instances.
func (m *ManagerService) SetRoomSyncer(s RoomSyncer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncer = s
}

// Register adds c, closing any previous connection of the same user.
func (m *ManagerService) Register(c Client) {
	p := c.Participant()

	m.mu.Lock()
	old := m.clients[p.ID]
	m.clients[p.ID] = c
	m.mu.Unlock()

	if old != nil && old != c {
		zap.S().Infow("replacing existing connection", "user_id", p.ID)
		old.Close()
	} else {
		m.metrics.ConnectionOpened(p.Role)
	}
	m.markPresence(p, true)
	zap.S().Infow("client registered", "user_id", p.ID, "role", p.Role)
}

// Unregister removes c if it is still the user's current connection and
// reports whether it was.
func (m *ManagerService) Unregister(c Client) bool {
	p := c.Participant()

	m.mu.Lock()
	current, ok := m.clients[p.ID]
	if !ok || current != c {
		m.mu.Unlock()
		return false
	}
	delete(m.clients, p.ID)
	m.mu.Unlock()

	m.metrics.ConnectionClosed(p.Role)
	m.markPresence(p, false)
	zap.S().Infow("client unregistered", "user_id", p.ID, "role", p.Role)
	return true
}

func (m *ManagerService) markPresence(p models.Participant, online bool) {
	if m.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var err error
	if online {
		err = m.presence.MarkOnline(ctx, p.Role, p.ID)
	} else {
		err = m.presence.MarkOffline(ctx, p.Role, p.ID)
	}
	if err != nil {
		zap.S().Warnw("failed to update presence", "user_id", p.ID, "online", online, "error", err)
	}
}

// IsConnected reports whether userID holds a connection on this instance.
func (m *ManagerService) IsConnected(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[userID]
	return ok
}

// Publish stamps d with this instance and hands it to the bus.
func (m *ManagerService) Publish(ctx context.Context, d Delivery) error {
	d.Origin = m.id
	return m.bus.Publish(ctx, d)
}

// Run routes bus deliveries to local connections until ctx is done or the
// bus closes.
func (m *ManagerService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-m.bus.Deliveries():
			if !ok {
				return
			}
			if d.RoomID != "" && d.Origin != m.id {
				m.syncRoom(d.RoomID, d.Envelope.Event)
			}
			m.deliver(d)
		}
	}
}

// syncRoom refreshes the local copy of a room in the background. A room held
// by a slow store call must not stall the delivery loop.
func (m *ManagerService) syncRoom(roomID, event string) {
	m.mu.RLock()
	s := m.syncer
	m.mu.RUnlock()
	if s == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Sync(ctx, roomID); err != nil {
			zap.S().Warnw("failed to sync room changed elsewhere", "room_id", roomID, "event", event, "error", err)
		}
	}()
}

func (m *ManagerService) deliver(d Delivery) {
	for _, c := range m.targets(d) {
		if !c.Deliver(d.Envelope) {
			// Slow or dead consumer; the read pump will unregister it.
			zap.S().Warnw("dropping connection that cannot keep up",
				"user_id", c.GetUserID(), "event", d.Envelope.Event)
			c.Close()
		}
	}
}

func (m *ManagerService) targets(d Delivery) []Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{}, len(d.UserIDs))
	var out []Client
	for _, id := range d.UserIDs {
		if c, ok := m.clients[id]; ok {
			seen[id] = struct{}{}
			out = append(out, c)
		}
	}
	if d.Admins {
		for id, c := range m.clients {
			if _, dup := seen[id]; dup {
				continue
			}
			if c.Participant().Role == models.RoleAdmin {
				out = append(out, c)
			}
		}
	}
	return out
}
