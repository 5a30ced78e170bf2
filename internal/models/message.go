package models

import "time"

// Message is an immutable chat line. SentAt is assigned by the server when the
// message is accepted and is strictly increasing within a room.
type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"message"`
	SentAt     time.Time `json:"sendTime"`
}

// DedupeKey identifies a finalized message independently of its generated ID.
func (m Message) DedupeKey() string {
	return m.RoomID + "|" + m.SenderID + "|" + m.SentAt.UTC().Format(time.RFC3339Nano)
}
