package models

import "encoding/json"

// Event names on the /room namespace.
const (
	EventEnterRoom         = "enter-room"
	EventSendMessage       = "send-message"
	EventShowRooms         = "show-rooms"
	EventShowAdminRooms    = "show-admin-rooms"
	EventShowFinishedRooms = "show-finished-rooms"
	EventJoinRoom          = "join-room"
	EventFinishRoom        = "finish-room"

	EventAck            = "ack"
	EventReceiveMessage = "receive-message"
	EventUserEntered    = "user-entered"
	EventRoomClaimed    = "room-claimed"
	EventRoomFinished   = "room-finished"
	EventUserOnline     = "user-online"
	EventUserOffline    = "user-offline"
)

// Envelope is the single frame format on the websocket. Requests carry a
// non-zero Ack that the matching "ack" response echoes back.
type Envelope struct {
	Event string          `json:"event"`
	Ack   uint64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *WireError      `json:"error,omitempty"`
}

type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope marshals data into a push frame.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Request payloads.

type EnterRoomRequest struct {
	UserID string `json:"userId"`
}

type SendMessageRequest struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	RoomID  string `json:"roomId"`
}

type AdminRequest struct {
	AdminID string `json:"adminId"`
}

type JoinRoomRequest struct {
	AdminID string `json:"adminId"`
	RoomID  string `json:"roomId"`
}

type FinishRoomRequest struct {
	RoomID string `json:"roomId"`
}

type PageRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// Response and push payloads.

type EnterRoomResponse struct {
	RoomID   string    `json:"roomId"`
	State    RoomState `json:"state"`
	Messages []Message `json:"messages"`
}

type NewMessagePayload struct {
	NewMessage Message `json:"newMessage"`
}

type RoomsPayload struct {
	Rooms []Room `json:"rooms"`
}

type RoomPayload struct {
	Room Room `json:"room"`
}

type RoomIDPayload struct {
	RoomID  string `json:"roomId"`
	AdminID string `json:"adminId,omitempty"`
}
