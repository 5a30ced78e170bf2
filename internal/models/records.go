package models

import (
	"time"

	"gorm.io/gorm"
)

// RoomRecord is the persisted room row. Transcripts live in MessageRecord.
type RoomRecord struct {
	// RoomID is the deterministic room identifier (UUIDv5).
	RoomID      string `gorm:"primaryKey"`
	ShopperID   string `gorm:"type:text;not null;index:idx_room_shopper_state"`
	ShopperName string `gorm:"type:text"`
	AdminID     string `gorm:"type:text;index"`
	AdminName   string `gorm:"type:text"`
	// State is one of waiting, active, finished.
	State      string `gorm:"type:text;not null;index:idx_room_shopper_state"`
	CreatedAt  time.Time
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false;index"`
	FinishedAt *time.Time
}

func (RoomRecord) TableName() string { return "chat_rooms" }

// MessageRecord is one persisted chat message. The composite unique index makes
// appends idempotent for a retried finalized message.
type MessageRecord struct {
	gorm.Model

	MessageID  string    `gorm:"type:text;not null;uniqueIndex"`
	RoomID     string    `gorm:"type:text;not null;uniqueIndex:idx_msg_dedupe,priority:1"`
	SenderID   string    `gorm:"type:text;not null;uniqueIndex:idx_msg_dedupe,priority:2"`
	SentAt     time.Time `gorm:"not null;uniqueIndex:idx_msg_dedupe,priority:3"`
	SenderName string    `gorm:"type:text"`
	Body       string    `gorm:"type:text;not null"`
}

func (MessageRecord) TableName() string { return "chat_messages" }

func NewRoomRecord(r Room) RoomRecord {
	rec := RoomRecord{
		RoomID:      r.RoomID,
		ShopperID:   r.Shopper.ID,
		ShopperName: r.Shopper.Name,
		State:       string(r.State),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Admin != nil {
		rec.AdminID = r.Admin.ID
		rec.AdminName = r.Admin.Name
	}
	return rec
}

func (rec RoomRecord) ToRoom() Room {
	r := Room{
		RoomID:    rec.RoomID,
		Shopper:   Participant{ID: rec.ShopperID, Name: rec.ShopperName, Role: RoleShopper},
		State:     RoomState(rec.State),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.AdminID != "" {
		r.Admin = &Participant{ID: rec.AdminID, Name: rec.AdminName, Role: RoleAdmin}
	}
	return r
}

func NewMessageRecord(m Message) MessageRecord {
	return MessageRecord{
		MessageID:  m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       m.Body,
		SentAt:     m.SentAt.UTC(),
	}
}

func (rec MessageRecord) ToMessage() Message {
	return Message{
		ID:         rec.MessageID,
		RoomID:     rec.RoomID,
		SenderID:   rec.SenderID,
		SenderName: rec.SenderName,
		Body:       rec.Body,
		SentAt:     rec.SentAt.UTC(),
	}
}
