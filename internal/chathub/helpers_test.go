package chathub_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/rooms"
	"supportchat/backend/internal/storage"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	ana   = models.Participant{ID: "u1", Name: "Ana", Role: models.RoleShopper}
	bia   = models.Participant{ID: "u2", Name: "Bia", Role: models.RoleShopper}
	carla = models.Participant{ID: "a1", Name: "Carla", Role: models.RoleAdmin}
	diego = models.Participant{ID: "a2", Name: "Diego", Role: models.RoleAdmin}
)

// MockClient records every frame the hub delivers.
type MockClient struct {
	p      models.Participant
	inbox  chan models.Envelope
	closed atomic.Bool
}

func newMockClient(p models.Participant) *MockClient {
	return &MockClient{p: p, inbox: make(chan models.Envelope, 64)}
}

func (c *MockClient) GetUserID() string               { return c.p.ID }
func (c *MockClient) Participant() models.Participant { return c.p }
func (c *MockClient) Run()                            {}
func (c *MockClient) Close()                          { c.closed.Store(true) }

func (c *MockClient) Deliver(env models.Envelope) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.inbox <- env:
		return true
	default:
		return false
	}
}

// waitFor returns the next frame with the given event, skipping others.
func (c *MockClient) waitFor(t *testing.T, event string) models.Envelope {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case env := <-c.inbox:
			if env.Event == event {
				return env
			}
		case <-timeout:
			t.Fatalf("%s never received %s", c.p.ID, event)
			return models.Envelope{}
		}
	}
}

// assertNoFrame fails if anything with the event arrives within a short window.
func (c *MockClient) assertNoFrame(t *testing.T, event string) {
	t.Helper()
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case env := <-c.inbox:
			if env.Event == event {
				t.Fatalf("%s unexpectedly received %s", c.p.ID, event)
			}
		case <-timeout:
			return
		}
	}
}

// MockNotifier is a testify mock of chathub.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) RoomWaiting(ctx context.Context, room models.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

// appendFailingStore rejects every append.
type appendFailingStore struct {
	*storage.MemoryStore
}

func (s appendFailingStore) Append(context.Context, string, models.Message) error {
	return errStoreDown
}

var errStoreDown = errors.New("database is down")

type harness struct {
	store    storage.Storage
	registry *rooms.Registry
	hub      *chathub.ManagerService
	ctrl     *chathub.Controller
	listing  *chathub.PresenceService
}

func newHarness(t *testing.T, store storage.Storage, opts ...chathub.ControllerOption) *harness {
	t.Helper()
	mem := storage.NewMemoryStore()
	if store == nil {
		store = mem
	}
	return newInstance(t, store, mem, chathub.NewLocalBus(64), opts...)
}

// newInstance runs one server instance over store and bus.
func newInstance(t *testing.T, store storage.Storage, presence storage.Presence, bus chathub.EventBus, opts ...chathub.ControllerOption) *harness {
	t.Helper()
	reg := rooms.NewRegistry(store, rooms.WithPersistTimeout(time.Second))
	hub := chathub.NewManagerService(bus, presence, nil)
	listing := chathub.NewPresenceService(reg, store, presence)
	ctrl := chathub.NewController(hub, reg, listing, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return &harness{store: store, registry: reg, hub: hub, ctrl: ctrl, listing: listing}
}

func (h *harness) connect(p models.Participant) *MockClient {
	c := newMockClient(p)
	h.ctrl.Connect(c)
	return c
}

var ackSeq atomic.Uint64

func (h *harness) request(t *testing.T, c *MockClient, event string, data any) models.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	id := ackSeq.Add(1)
	reply := h.ctrl.Dispatch(context.Background(), c, models.Envelope{Event: event, Ack: id, Data: raw})
	require.Equal(t, models.EventAck, reply.Event)
	require.Equal(t, id, reply.Ack)
	return reply
}

func (h *harness) ok(t *testing.T, c *MockClient, event string, data any) models.Envelope {
	t.Helper()
	reply := h.request(t, c, event, data)
	require.Nil(t, reply.Error, "%s failed: %+v", event, reply.Error)
	return reply
}

func (h *harness) fails(t *testing.T, c *MockClient, event string, data any) string {
	t.Helper()
	reply := h.request(t, c, event, data)
	require.NotNil(t, reply.Error, "%s unexpectedly succeeded", event)
	return reply.Error.Code
}

func decodeData[T any](t *testing.T, env models.Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func (h *harness) enter(t *testing.T, c *MockClient) models.EnterRoomResponse {
	t.Helper()
	return decodeData[models.EnterRoomResponse](t, h.ok(t, c, models.EventEnterRoom, models.EnterRoomRequest{UserID: c.p.ID}))
}

func (h *harness) send(t *testing.T, c *MockClient, roomID, body string) models.Message {
	t.Helper()
	reply := h.ok(t, c, models.EventSendMessage, models.SendMessageRequest{
		Message: body, ID: c.p.ID, Name: c.p.Name, RoomID: roomID,
	})
	return decodeData[models.NewMessagePayload](t, reply).NewMessage
}
