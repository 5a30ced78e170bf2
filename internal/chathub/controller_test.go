package chathub_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/rooms"
	"supportchat/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestController_SupportConversation(t *testing.T) {
	h := newHarness(t, nil)
	admin := h.connect(carla)
	shopper := h.connect(ana)

	entered := h.enter(t, shopper)
	assert.Equal(t, models.RoomWaiting, entered.State)
	assert.Empty(t, entered.Messages)
	roomID := entered.RoomID

	announced := decodeData[models.RoomPayload](t, admin.waitFor(t, models.EventUserEntered))
	assert.Equal(t, roomID, announced.Room.RoomID)

	waiting := decodeData[models.RoomsPayload](t, h.ok(t, admin, models.EventShowRooms, models.AdminRequest{AdminID: carla.ID}))
	require.Len(t, waiting.Rooms, 1)
	assert.Equal(t, roomID, waiting.Rooms[0].RoomID)
	assert.Equal(t, "Ana", waiting.Rooms[0].Shopper.Name)

	joined := decodeData[models.RoomPayload](t, h.ok(t, admin, models.EventJoinRoom, models.JoinRoomRequest{AdminID: carla.ID, RoomID: roomID}))
	assert.Equal(t, models.RoomActive, joined.Room.State)
	require.NotNil(t, joined.Room.Admin)
	assert.Equal(t, carla.ID, joined.Room.Admin.ID)

	claimed := decodeData[models.RoomIDPayload](t, shopper.waitFor(t, models.EventRoomClaimed))
	assert.Equal(t, roomID, claimed.RoomID)
	assert.Equal(t, carla.ID, claimed.AdminID)

	hello := h.send(t, shopper, roomID, "Olá")
	assert.False(t, hello.SentAt.IsZero())
	relayed := decodeData[models.NewMessagePayload](t, admin.waitFor(t, models.EventReceiveMessage))
	assert.Equal(t, "Olá", relayed.NewMessage.Body)
	assert.True(t, hello.SentAt.Equal(relayed.NewMessage.SentAt))

	reply := h.send(t, admin, roomID, "Oi, como posso ajudar?")
	got := decodeData[models.NewMessagePayload](t, shopper.waitFor(t, models.EventReceiveMessage))
	assert.Equal(t, "Oi, como posso ajudar?", got.NewMessage.Body)
	assert.True(t, reply.SentAt.After(hello.SentAt))

	finished := decodeData[models.RoomIDPayload](t, h.ok(t, admin, models.EventFinishRoom, models.FinishRoomRequest{RoomID: roomID}))
	assert.Equal(t, roomID, finished.RoomID)
	shopper.waitFor(t, models.EventRoomFinished)

	code := h.fails(t, shopper, models.EventSendMessage, models.SendMessageRequest{Message: "ainda aí?", RoomID: roomID})
	assert.Equal(t, rooms.CodeRoomClosed, code)

	waiting = decodeData[models.RoomsPayload](t, h.ok(t, admin, models.EventShowRooms, nil))
	assert.Empty(t, waiting.Rooms)
	mine := decodeData[models.RoomsPayload](t, h.ok(t, admin, models.EventShowAdminRooms, nil))
	assert.Empty(t, mine.Rooms)

	done := decodeData[models.RoomsPayload](t, h.ok(t, admin, models.EventShowFinishedRooms, models.PageRequest{Page: 1}))
	require.Len(t, done.Rooms, 1)
	assert.Equal(t, roomID, done.Rooms[0].RoomID)
	require.Len(t, done.Rooms[0].Messages, 2, "finished rooms are listed with their transcript")
	assert.Equal(t, "Olá", done.Rooms[0].Messages[0].Body)

	stored, err := h.store.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "Olá", stored.Messages[0].Body)
	assert.Equal(t, "Oi, como posso ajudar?", stored.Messages[1].Body)
}

func TestController_ConcurrentJoinExactlyOneWins(t *testing.T) {
	h := newHarness(t, nil)
	shopper := h.connect(ana)
	roomID := h.enter(t, shopper).RoomID

	admins := []*MockClient{h.connect(carla), h.connect(diego)}
	codes := make([]string, len(admins))

	var wg sync.WaitGroup
	for i, a := range admins {
		wg.Add(1)
		go func(i int, a *MockClient) {
			defer wg.Done()
			data, _ := json.Marshal(models.JoinRoomRequest{RoomID: roomID})
			reply := h.ctrl.Dispatch(context.Background(), a, models.Envelope{Event: models.EventJoinRoom, Ack: 1, Data: data})
			if reply.Error != nil {
				codes[i] = reply.Error.Code
			}
		}(i, a)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"", rooms.CodeAlreadyClaimed}, codes)

	room, err := h.registry.Get(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomActive, room.State)
	require.NotNil(t, room.Admin)

	winner := carla.ID
	if codes[0] != "" {
		winner = diego.ID
	}
	assert.Equal(t, winner, room.Admin.ID)
}

func TestController_AdminRejoinIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	shopper := h.connect(ana)
	admin := h.connect(carla)
	roomID := h.enter(t, shopper).RoomID

	h.ok(t, admin, models.EventJoinRoom, models.JoinRoomRequest{RoomID: roomID})
	shopper.waitFor(t, models.EventRoomClaimed)
	h.send(t, shopper, roomID, "Olá")

	again := decodeData[models.RoomPayload](t, h.ok(t, admin, models.EventJoinRoom, models.JoinRoomRequest{RoomID: roomID}))
	require.Len(t, again.Room.Messages, 1)
	assert.Equal(t, "Olá", again.Room.Messages[0].Body)
	shopper.assertNoFrame(t, models.EventRoomClaimed)

	other := h.connect(diego)
	assert.Equal(t, rooms.CodeAlreadyClaimed,
		h.fails(t, other, models.EventJoinRoom, models.JoinRoomRequest{RoomID: roomID}))
}

func TestController_ReconnectCatchesUp(t *testing.T) {
	h := newHarness(t, nil)
	first := h.connect(ana)
	room := h.enter(t, first)

	h.send(t, first, room.RoomID, "alguém aí?")

	h.ctrl.Disconnect(first)
	assert.False(t, h.hub.IsConnected(ana.ID))

	second := h.connect(ana)
	again := h.enter(t, second)
	assert.Equal(t, room.RoomID, again.RoomID)
	require.Len(t, again.Messages, 1)
	assert.Equal(t, "alguém aí?", again.Messages[0].Body)
}

func TestController_ShopperPresenceReachesAssignedAdmin(t *testing.T) {
	h := newHarness(t, nil)
	shopper := h.connect(ana)
	admin := h.connect(carla)
	roomID := h.enter(t, shopper).RoomID
	h.ok(t, admin, models.EventJoinRoom, models.JoinRoomRequest{RoomID: roomID})

	h.ctrl.Disconnect(shopper)
	offline := decodeData[models.RoomIDPayload](t, admin.waitFor(t, models.EventUserOffline))
	assert.Equal(t, roomID, offline.RoomID)

	back := h.connect(ana)
	online := decodeData[models.RoomIDPayload](t, admin.waitFor(t, models.EventUserOnline))
	assert.Equal(t, roomID, online.RoomID)

	msg := h.send(t, admin, roomID, "bem-vinda de volta")
	got := decodeData[models.NewMessagePayload](t, back.waitFor(t, models.EventReceiveMessage))
	assert.Equal(t, msg.ID, got.NewMessage.ID)
}

func TestController_PersistenceFailureIsNotRelayed(t *testing.T) {
	h := newHarness(t, appendFailingStore{storage.NewMemoryStore()})
	shopper := h.connect(ana)
	admin := h.connect(carla)
	roomID := h.enter(t, shopper).RoomID
	h.ok(t, admin, models.EventJoinRoom, models.JoinRoomRequest{RoomID: roomID})

	reply := h.request(t, shopper, models.EventSendMessage, models.SendMessageRequest{Message: "Olá", RoomID: roomID})
	require.NotNil(t, reply.Error)
	assert.Equal(t, rooms.CodePersistence, reply.Error.Code)
	assert.NotContains(t, reply.Error.Message, "database is down")

	admin.assertNoFrame(t, models.EventReceiveMessage)
	room, err := h.registry.Get(context.Background(), roomID)
	require.NoError(t, err)
	assert.Empty(t, room.Messages)
}

func TestController_WaitingSendsReplayOnClaim(t *testing.T) {
	h := newHarness(t, nil)
	shopper := h.connect(ana)
	admin := h.connect(carla)
	roomID := h.enter(t, shopper).RoomID

	h.send(t, shopper, roomID, "preciso de ajuda")
	admin.assertNoFrame(t, models.EventReceiveMessage)

	joined := decodeData[models.RoomPayload](t, h.ok(t, admin, models.EventJoinRoom, models.JoinRoomRequest{RoomID: roomID}))
	require.Len(t, joined.Room.Messages, 1)
	assert.Equal(t, "preciso de ajuda", joined.Room.Messages[0].Body)
}

func TestController_Rejections(t *testing.T) {
	h := newHarness(t, nil)
	shopper := h.connect(ana)
	intruder := h.connect(bia)
	admin := h.connect(carla)
	other := h.connect(diego)
	roomID := h.enter(t, shopper).RoomID

	tests := []struct {
		name   string
		client *MockClient
		event  string
		data   any
		code   string
	}{
		{"admin cannot enter a room", admin, models.EventEnterRoom, nil, rooms.CodeUnauthorized},
		{"shopper cannot list rooms", shopper, models.EventShowRooms, nil, rooms.CodeUnauthorized},
		{"shopper cannot claim", shopper, models.EventJoinRoom, models.JoinRoomRequest{RoomID: roomID}, rooms.CodeUnauthorized},
		{"shopper cannot finish", shopper, models.EventFinishRoom, models.FinishRoomRequest{RoomID: roomID}, rooms.CodeUnauthorized},
		{"payload id must match token", shopper, models.EventEnterRoom, models.EnterRoomRequest{UserID: bia.ID}, rooms.CodeUnauthorized},
		{"admin id must match token", admin, models.EventShowAdminRooms, models.AdminRequest{AdminID: diego.ID}, rooms.CodeUnauthorized},
		{"non member cannot send", intruder, models.EventSendMessage, models.SendMessageRequest{Message: "oi", RoomID: roomID}, rooms.CodeUnauthorized},
		{"blank message", shopper, models.EventSendMessage, models.SendMessageRequest{Message: "  ", RoomID: roomID}, rooms.CodeInvalidRequest},
		{"missing room id", shopper, models.EventSendMessage, models.SendMessageRequest{Message: "oi"}, rooms.CodeInvalidRequest},
		{"malformed payload", shopper, models.EventSendMessage, []int{1, 2}, rooms.CodeInvalidRequest},
		{"unknown event", shopper, "dance", nil, rooms.CodeInvalidRequest},
		{"unknown room", admin, models.EventJoinRoom, models.JoinRoomRequest{RoomID: "missing"}, rooms.CodeNotFound},
		{"finish a waiting room", admin, models.EventFinishRoom, models.FinishRoomRequest{RoomID: roomID}, rooms.CodeInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, h.fails(t, tt.client, tt.event, tt.data))
		})
	}

	h.ok(t, admin, models.EventJoinRoom, models.JoinRoomRequest{RoomID: roomID})
	assert.Equal(t, rooms.CodeUnauthorized,
		h.fails(t, other, models.EventFinishRoom, models.FinishRoomRequest{RoomID: roomID}),
		"only the assigned admin may finish")
}

func TestController_NotifiesNewWaitingRoom(t *testing.T) {
	notifier := new(MockNotifier)
	called := make(chan models.Room, 1)
	notifier.On("RoomWaiting", mock.Anything, mock.AnythingOfType("models.Room")).
		Run(func(args mock.Arguments) { called <- args.Get(1).(models.Room) }).
		Return(nil).Once()

	h := newHarness(t, nil, chathub.WithNotifier(notifier))
	shopper := h.connect(ana)
	roomID := h.enter(t, shopper).RoomID
	h.enter(t, shopper)

	select {
	case room := <-called:
		assert.Equal(t, roomID, room.RoomID)
		assert.Equal(t, "Ana", room.Shopper.Name)
	case <-time.After(time.Second):
		t.Fatal("notifier was not called")
	}
	time.Sleep(50 * time.Millisecond)
	notifier.AssertNumberOfCalls(t, "RoomWaiting", 1)
}

func TestController_FinishIdle(t *testing.T) {
	h := newHarness(t, nil)
	shopper := h.connect(ana)
	admin := h.connect(carla)
	roomID := h.enter(t, shopper).RoomID
	h.ok(t, admin, models.EventJoinRoom, models.JoinRoomRequest{RoomID: roomID})

	assert.Zero(t, h.ctrl.FinishIdle(context.Background(), time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, h.ctrl.FinishIdle(context.Background(), time.Now().Add(time.Hour)))

	shopper.waitFor(t, models.EventRoomFinished)
	assert.Equal(t, rooms.CodeRoomClosed,
		h.fails(t, shopper, models.EventSendMessage, models.SendMessageRequest{Message: "oi", RoomID: roomID}))
}
