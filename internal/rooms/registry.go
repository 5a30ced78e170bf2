package rooms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var roomNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("supportchat/rooms"))

// RoomIDFor derives the room id for the seq-th room a shopper has opened.
// A reconnecting shopper maps back to the same id until the room is finished.
func RoomIDFor(shopperID string, seq int64) string {
	return uuid.NewSHA1(roomNamespace, []byte(fmt.Sprintf("%s#%d", shopperID, seq))).String()
}

// CommitFunc runs while the room is still locked, right after a message was
// persisted, so pushes leave in timestamp order.
type CommitFunc func(room models.Room, msg models.Message)

// Registry owns every waiting and active room. Mutations are serialized per
// room; creation is serialized per shopper.
type Registry struct {
	store   storage.Storage
	timeout time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	rooms     map[string]*roomEntry
	byShopper map[string]string

	shopperLocks *KeyedMutex
}

type roomEntry struct {
	mu   sync.Mutex
	room models.Room
	// gone is set once the room left the registry; waiters must re-check it.
	gone bool
}

func (e *roomEntry) clone() models.Room {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room.Clone()
}

type Option func(*Registry)

// WithPersistTimeout bounds every store call made while a room is locked.
func WithPersistTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(s storage.Storage, opts ...Option) *Registry {
	r := &Registry{
		store:        s,
		timeout:      5 * time.Second,
		now:          time.Now,
		rooms:        make(map[string]*roomEntry),
		byShopper:    make(map[string]string),
		shopperLocks: NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Registry) lookup(roomID string) *roomEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// adopt registers a room read from the store and returns its entry. An entry
// already held for the id wins. The store is authoritative for which room a
// shopper has open, so the shopper index follows the adopted room.
func (r *Registry) adopt(room models.Room) *roomEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.rooms[room.RoomID]; ok {
		return e
	}
	e := &roomEntry{room: room}
	r.rooms[room.RoomID] = e
	r.byShopper[room.Shopper.ID] = room.RoomID
	return e
}

func (r *Registry) remove(room models.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, room.RoomID)
	if r.byShopper[room.Shopper.ID] == room.RoomID {
		delete(r.byShopper, room.Shopper.ID)
	}
}

// tick returns a timestamp strictly after prev, truncated to the precision the
// store keeps.
func (r *Registry) tick(prev time.Time) time.Time {
	now := r.now().UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

// Recover reloads non-finished rooms from the store. Call it before accepting
// connections; rooms already held are kept as they are.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	open, err := r.store.ListOpenRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open rooms: %w", err)
	}
	for _, room := range open {
		r.adopt(room)
	}
	return len(open), nil
}

// FindOrCreateRoomForShopper returns the shopper's open room with its full
// transcript, creating a waiting room when none exists. created reports
// whether a new room was opened.
func (r *Registry) FindOrCreateRoomForShopper(ctx context.Context, shopper models.Participant) (room models.Room, created bool, err error) {
	if !shopper.CanInitiateRoom() {
		return models.Room{}, false, ErrUnauthorized
	}

	unlock := r.shopperLocks.Lock(shopper.ID)
	defer unlock()

	for attempt := 0; attempt < 3; attempt++ {
		room, created, err = r.findOrCreateLocked(ctx, shopper)
		if !errors.Is(err, ErrConflict) {
			return room, created, err
		}
	}
	return models.Room{}, false, err
}

func (r *Registry) findOrCreateLocked(ctx context.Context, shopper models.Participant) (models.Room, bool, error) {
	r.mu.RLock()
	e := r.rooms[r.byShopper[shopper.ID]]
	r.mu.RUnlock()

	if e != nil {
		e.mu.Lock()
		if !e.gone {
			out := e.room.Clone()
			e.mu.Unlock()
			return out, false, nil
		}
		e.mu.Unlock()
	}

	sctx, cancel := r.storeCtx(ctx)
	defer cancel()

	persisted, err := r.store.FindOpenRoomForShopper(sctx, shopper.ID)
	if err != nil {
		return models.Room{}, false, fmt.Errorf("find open room for %s: %v: %w", shopper.ID, err, ErrPersistence)
	}
	if persisted != nil {
		return r.adopt(*persisted).clone(), false, nil
	}

	seq, err := r.store.CountRoomsForShopper(sctx, shopper.ID)
	if err != nil {
		return models.Room{}, false, fmt.Errorf("count rooms for %s: %v: %w", shopper.ID, err, ErrPersistence)
	}
	now := r.tick(time.Time{})
	room := models.Room{
		RoomID:    RoomIDFor(shopper.ID, seq),
		Shopper:   models.Participant{ID: shopper.ID, Name: shopper.Name, Role: models.RoleShopper},
		State:     models.RoomWaiting,
		Messages:  []models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = r.store.CreateRoom(sctx, &room)
	if errors.Is(err, storage.ErrRoomExists) {
		// Another instance opened it between our lookup and the insert.
		zap.S().Infow("room opened concurrently elsewhere", "room_id", room.RoomID, "shopper_id", shopper.ID)
		return models.Room{}, false, fmt.Errorf("create room %s: %w", room.RoomID, ErrConflict)
	}
	if err != nil {
		return models.Room{}, false, fmt.Errorf("save room %s: %v: %w", room.RoomID, err, ErrPersistence)
	}
	return r.adopt(room).clone(), true, nil
}

func (r *Registry) snapshot(keep func(models.Room) bool) []models.Room {
	r.mu.RLock()
	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]models.Room, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.gone && keep(e.room) {
			out = append(out, e.room.Summary())
		}
		e.mu.Unlock()
	}
	return out
}

// ListWaitingRooms returns unclaimed rooms, oldest-waiting first.
func (r *Registry) ListWaitingRooms() []models.Room {
	out := r.snapshot(func(room models.Room) bool { return room.State == models.RoomWaiting })
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

// ListActiveRoomsForAdmin returns the active rooms claimed by adminID.
func (r *Registry) ListActiveRoomsForAdmin(adminID string) []models.Room {
	out := r.snapshot(func(room models.Room) bool {
		return room.State == models.RoomActive && room.Admin != nil && room.Admin.ID == adminID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// IdleActiveRooms lists active rooms whose last update is before cutoff.
func (r *Registry) IdleActiveRooms(cutoff time.Time) []models.Room {
	return r.snapshot(func(room models.Room) bool {
		return room.State == models.RoomActive && room.UpdatedAt.Before(cutoff)
	})
}

// Claim assigns admin to a waiting room and activates it. The admin that
// already owns an active room may claim it again to resume. The store decides
// races between instances: only a room still waiting there can be claimed.
func (r *Registry) Claim(ctx context.Context, roomID string, admin models.Participant) (models.Room, error) {
	if !admin.CanClaimRoom() {
		return models.Room{}, ErrUnauthorized
	}
	e, err := r.load(ctx, roomID, ErrAlreadyClaimed)
	if err != nil {
		return models.Room{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return models.Room{}, ErrAlreadyClaimed
	}

	switch e.room.State {
	case models.RoomActive:
		if ownedBy(e.room, admin.ID) {
			return e.room.Clone(), nil
		}
		return models.Room{}, fmt.Errorf("room %s: %w", roomID, ErrAlreadyClaimed)
	case models.RoomWaiting:
	default:
		return models.Room{}, fmt.Errorf("room %s is %s: %w", roomID, e.room.State, ErrAlreadyClaimed)
	}

	at := r.tick(e.room.UpdatedAt)
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	err = r.store.ClaimRoom(sctx, roomID, admin, at)
	if errors.Is(err, storage.ErrStateConflict) {
		if err := r.refreshLocked(ctx, e); err != nil {
			return models.Room{}, err
		}
		if !e.gone && e.room.State == models.RoomActive && ownedBy(e.room, admin.ID) {
			return e.room.Clone(), nil
		}
		return models.Room{}, fmt.Errorf("room %s was claimed elsewhere: %w", roomID, ErrAlreadyClaimed)
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("claim room %s: %v: %w", roomID, err, ErrPersistence)
	}

	next := e.room.Clone()
	next.State = models.RoomActive
	next.Admin = &models.Participant{ID: admin.ID, Name: admin.Name, Role: models.RoleAdmin}
	next.UpdatedAt = at
	e.room = next
	return next.Clone(), nil
}

// Finish moves an active room to finished and drops it from the registry.
func (r *Registry) Finish(ctx context.Context, roomID string) (models.Room, error) {
	e, err := r.load(ctx, roomID, ErrInvalidState)
	if err != nil {
		return models.Room{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone || e.room.State != models.RoomActive {
		return models.Room{}, fmt.Errorf("finish room %s in state %s: %w", roomID, e.room.State, ErrInvalidState)
	}

	at := r.tick(e.room.UpdatedAt)
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	err = r.store.MarkFinished(sctx, roomID, at)
	if errors.Is(err, storage.ErrStateConflict) {
		if err := r.refreshLocked(ctx, e); err != nil {
			return models.Room{}, err
		}
		return models.Room{}, fmt.Errorf("finish room %s in state %s: %w", roomID, e.room.State, ErrInvalidState)
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("finish room %s: %v: %w", roomID, err, ErrPersistence)
	}

	e.room.State = models.RoomFinished
	e.room.UpdatedAt = at
	e.gone = true
	r.remove(e.room)
	return e.room.Clone(), nil
}

// AppendMessage validates, timestamps, and persists a message, then appends it
// to the in-memory transcript. Nothing becomes visible unless the store
// accepted the message.
func (r *Registry) AppendMessage(ctx context.Context, roomID string, sender models.Participant, body string, commit CommitFunc) (models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return models.Message{}, ErrInvalidMessage
	}
	e, err := r.load(ctx, roomID, ErrRoomClosed)
	if err != nil {
		return models.Message{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone || e.room.State == models.RoomFinished {
		return models.Message{}, fmt.Errorf("send to room %s: %w", roomID, ErrRoomClosed)
	}
	if !isMember(e.room, sender.ID) && e.room.State == models.RoomWaiting {
		// The sender may have claimed the room through another instance.
		if err := r.refreshLocked(ctx, e); err != nil {
			return models.Message{}, err
		}
		if e.gone {
			return models.Message{}, fmt.Errorf("send to room %s: %w", roomID, ErrRoomClosed)
		}
	}
	if !isMember(e.room, sender.ID) {
		return models.Message{}, fmt.Errorf("%s is not a member of room %s: %w", sender.ID, roomID, ErrUnauthorized)
	}

	msg := models.Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Body:       body,
		SentAt:     r.tick(lastChange(e.room)),
	}

	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.store.Append(sctx, roomID, msg); err != nil {
		return models.Message{}, fmt.Errorf("append to room %s: %v: %w", roomID, err, ErrPersistence)
	}

	e.room.Messages = append(e.room.Messages, msg)
	e.room.UpdatedAt = msg.SentAt
	if commit != nil {
		commit(e.room.Summary(), msg)
	}
	return msg, nil
}

// Get returns a room with its transcript. Finished rooms come from the store.
func (r *Registry) Get(ctx context.Context, roomID string) (models.Room, error) {
	if e := r.lookup(roomID); e != nil {
		e.mu.Lock()
		gone, out := e.gone, e.room.Clone()
		e.mu.Unlock()
		if !gone {
			return out, nil
		}
	}

	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	room, err := r.store.GetRoom(sctx, roomID)
	if errors.Is(err, storage.ErrRoomNotFound) {
		return models.Room{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("get room %s: %v: %w", roomID, err, ErrPersistence)
	}
	return *room, nil
}

// RoomForShopper returns the shopper's open room summary, if any.
func (r *Registry) RoomForShopper(shopperID string) (models.Room, bool) {
	r.mu.RLock()
	e := r.rooms[r.byShopper[shopperID]]
	r.mu.RUnlock()
	if e == nil {
		return models.Room{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return models.Room{}, false
	}
	return e.room.Summary(), true
}

// Counts returns the number of registry rooms per state.
func (r *Registry) Counts() map[models.RoomState]int {
	out := map[models.RoomState]int{models.RoomWaiting: 0, models.RoomActive: 0}
	for _, room := range r.snapshot(func(models.Room) bool { return true }) {
		out[room.State]++
	}
	return out
}

// Sync reloads roomID from the store, picking up changes another instance
// made: a claim, new messages, or the room being finished.
func (r *Registry) Sync(ctx context.Context, roomID string) error {
	e := r.lookup(roomID)
	if e == nil {
		_, err := r.load(ctx, roomID, ErrRoomClosed)
		if errors.Is(err, ErrRoomClosed) {
			return nil
		}
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil
	}
	return r.refreshLocked(ctx, e)
}

// load returns the entry for roomID, reading the room through from the store
// when this registry does not hold it. A room the store knows as finished
// yields ifFinished.
func (r *Registry) load(ctx context.Context, roomID string, ifFinished error) (*roomEntry, error) {
	if e := r.lookup(roomID); e != nil {
		return e, nil
	}

	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	room, err := r.store.GetRoom(sctx, roomID)
	switch {
	case errors.Is(err, storage.ErrRoomNotFound):
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("get room %s: %v: %w", roomID, err, ErrPersistence)
	case room.State == models.RoomFinished:
		return nil, fmt.Errorf("room %s is finished: %w", roomID, ifFinished)
	}
	return r.adopt(*room), nil
}

// refreshLocked replaces the entry's room with the stored copy and drops the
// entry once the store reports it finished. e.mu must be held.
func (r *Registry) refreshLocked(ctx context.Context, e *roomEntry) error {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	stored, err := r.store.GetRoom(sctx, e.room.RoomID)
	if err != nil {
		return fmt.Errorf("reload room %s: %v: %w", e.room.RoomID, err, ErrPersistence)
	}
	if stored.Messages == nil {
		stored.Messages = []models.Message{}
	}
	e.room = *stored
	if stored.State == models.RoomFinished {
		e.gone = true
		r.remove(e.room)
	}
	return nil
}

func ownedBy(room models.Room, adminID string) bool {
	return room.Admin != nil && room.Admin.ID == adminID
}

func isMember(room models.Room, userID string) bool {
	if room.Shopper.ID == userID {
		return true
	}
	return room.Admin != nil && room.Admin.ID == userID
}

func lastChange(room models.Room) time.Time {
	if last := room.LastSentAt(); last.After(room.UpdatedAt) {
		return last
	}
	return room.UpdatedAt
}
