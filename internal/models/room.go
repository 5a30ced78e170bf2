package models

import (
	"encoding/json"
	"time"
)

// RoomState is the lifecycle position of a room. Transitions only go
// waiting -> active -> finished.
type RoomState string

const (
	RoomWaiting  RoomState = "waiting"
	RoomActive   RoomState = "active"
	RoomFinished RoomState = "finished"
)

// Room is the conversation between one shopper and at most one administrator.
type Room struct {
	RoomID    string       `json:"roomId"`
	Shopper   Participant  `json:"user"`
	Admin     *Participant `json:"admin,omitempty"`
	State     RoomState    `json:"state"`
	Messages  []Message    `json:"messages,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// IsActive mirrors the flag the storefront admin screens read.
func (r Room) IsActive() bool { return r.State != RoomFinished }

func (r Room) MarshalJSON() ([]byte, error) {
	type plain Room
	return json.Marshal(struct {
		plain
		IsActive bool `json:"isActive"`
	}{plain(r), r.IsActive()})
}

// Summary returns a copy without the transcript, for listings.
func (r Room) Summary() Room {
	out := r
	out.Messages = nil
	if r.Admin != nil {
		a := *r.Admin
		out.Admin = &a
	}
	return out
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (r Room) Clone() Room {
	out := r.Summary()
	if r.Messages != nil {
		out.Messages = make([]Message, len(r.Messages))
		copy(out.Messages, r.Messages)
	}
	return out
}

// LastSentAt is the timestamp of the newest message, or zero.
func (r Room) LastSentAt() time.Time {
	if len(r.Messages) == 0 {
		return time.Time{}
	}
	return r.Messages[len(r.Messages)-1].SentAt
}
