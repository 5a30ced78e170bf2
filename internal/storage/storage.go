package storage

import (
	"context"
	"errors"
	"time"

	"supportchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	// ErrRoomNotFound is returned when the store has no record of a room.
	ErrRoomNotFound = errors.New("chat room not found")
	// ErrRoomExists is returned by CreateRoom when the id is already taken.
	ErrRoomExists = errors.New("chat room already exists")
	// ErrStateConflict is returned when a conditional transition finds the
	// room in a different state, usually because another instance moved it.
	ErrStateConflict = errors.New("chat room is not in the expected state")
)

// Page selects a window of a listing. Page is 1-based.
type Page struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps the page into sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

func (p Page) Offset() int { return (p.Page - 1) * p.PageSize }

// Storage is the message store gateway: the system of record for rooms and
// transcripts. Every method is a plain request/response call.
type Storage interface {
	// SaveRoom upserts room metadata (never the transcript).
	SaveRoom(ctx context.Context, room *models.Room) error
	// CreateRoom inserts a new room row and fails with ErrRoomExists when
	// the id is taken.
	CreateRoom(ctx context.Context, room *models.Room) error
	// ClaimRoom moves a waiting room to active under admin. Any other state
	// yields ErrStateConflict, so of several instances racing for the same
	// room exactly one succeeds.
	ClaimRoom(ctx context.Context, roomID string, admin models.Participant, at time.Time) error
	// GetRoom returns a room with its full ordered transcript.
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	// FindOpenRoomForShopper returns the shopper's non-finished room or nil.
	FindOpenRoomForShopper(ctx context.Context, shopperID string) (*models.Room, error)
	CountRoomsForShopper(ctx context.Context, shopperID string) (int64, error)
	// ListOpenRooms returns every non-finished room with its transcript.
	ListOpenRooms(ctx context.Context) ([]models.Room, error)

	// Append persists a finalized message. Appending the same message twice
	// is a no-op.
	Append(ctx context.Context, roomID string, msg models.Message) error
	GetHistory(ctx context.Context, roomID string) ([]models.Message, error)

	// MarkFinished moves an active room to finished. Any other state yields
	// ErrStateConflict.
	MarkFinished(ctx context.Context, roomID string, at time.Time) error
	// ListFinished returns finished rooms with their transcripts, most
	// recently updated first.
	ListFinished(ctx context.Context, page Page) ([]models.Room, error)
}

// Presence tracks which participants currently hold a connection.
type Presence interface {
	MarkOnline(ctx context.Context, role models.Role, userID string) error
	MarkOffline(ctx context.Context, role models.Role, userID string) error
	OnlineCount(ctx context.Context, role models.Role) (int64, error)
}

// Service is the postgres (gorm) + redis implementation.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// AutoMigrate creates the chat tables.
func (s *Service) AutoMigrate() error {
	return s.DB.AutoMigrate(&models.RoomRecord{}, &models.MessageRecord{})
}
