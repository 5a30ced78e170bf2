package storage

import (
	"context"
	"errors"
	"time"

	"supportchat/backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveRoom upserts the room row.
func (s *Service) SaveRoom(ctx context.Context, room *models.Room) error {
	rec := models.NewRoomRecord(*room)
	return s.DB.WithContext(ctx).Save(&rec).Error
}

// CreateRoom inserts the room row; an existing id yields ErrRoomExists.
func (s *Service) CreateRoom(ctx context.Context, room *models.Room) error {
	rec := models.NewRoomRecord(*room)
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRoomExists
	}
	return nil
}

// ClaimRoom activates the room only while it is still waiting.
func (s *Service) ClaimRoom(ctx context.Context, roomID string, admin models.Participant, at time.Time) error {
	return s.transition(ctx, roomID, models.RoomWaiting, map[string]interface{}{
		"state":      string(models.RoomActive),
		"admin_id":   admin.ID,
		"admin_name": admin.Name,
		"updated_at": at.UTC(),
	})
}

// transition applies updates to the room only if it is in state from. Zero
// affected rows mean either no such room or another state.
func (s *Service) transition(ctx context.Context, roomID string, from models.RoomState, updates map[string]interface{}) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RoomRecord{}).
			Where("room_id = ? AND state = ?", roomID, string(from)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		var n int64
		if err := tx.Model(&models.RoomRecord{}).Where("room_id = ?", roomID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrRoomNotFound
		}
		return ErrStateConflict
	})
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var rec models.RoomRecord
	err := s.DB.WithContext(ctx).Where("room_id = ?", roomID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		zap.S().Errorw("failed to get room", "room_id", roomID, "error", err)
		return nil, err
	}

	room := rec.ToRoom()
	if room.Messages, err = s.GetHistory(ctx, roomID); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Service) FindOpenRoomForShopper(ctx context.Context, shopperID string) (*models.Room, error) {
	var rec models.RoomRecord
	err := s.DB.WithContext(ctx).
		Where("shopper_id = ? AND state <> ?", shopperID, string(models.RoomFinished)).
		Order("created_at desc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, rec.RoomID)
}

func (s *Service) CountRoomsForShopper(ctx context.Context, shopperID string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.RoomRecord{}).
		Where("shopper_id = ?", shopperID).
		Count(&n).Error
	return n, err
}

// ListOpenRooms loads every waiting or active room, used to rebuild the
// registry after a restart.
func (s *Service) ListOpenRooms(ctx context.Context) ([]models.Room, error) {
	var ids []string
	if err := s.DB.WithContext(ctx).Model(&models.RoomRecord{}).
		Where("state <> ?", string(models.RoomFinished)).
		Order("updated_at asc").
		Pluck("room_id", &ids).Error; err != nil {
		zap.S().Errorw("failed to list open rooms", "error", err)
		return nil, err
	}

	out := make([]models.Room, 0, len(ids))
	for _, id := range ids {
		room, err := s.GetRoom(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *room)
	}
	return out, nil
}

// Append inserts the message and bumps the room's updated_at in one
// transaction. A duplicate (room, sender, sent_at) is silently ignored.
func (s *Service) Append(ctx context.Context, roomID string, msg models.Message) error {
	msg.RoomID = roomID
	rec := models.NewMessageRecord(msg)

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		return tx.Model(&models.RoomRecord{}).
			Where("room_id = ? AND updated_at < ?", roomID, rec.SentAt).
			Update("updated_at", rec.SentAt).Error
	})
}

// GetHistory returns the transcript ordered by server timestamp.
func (s *Service) GetHistory(ctx context.Context, roomID string) ([]models.Message, error) {
	var recs []models.MessageRecord
	if err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sent_at asc").Order("id asc").
		Find(&recs).Error; err != nil {
		zap.S().Errorw("failed to get chat history", "room_id", roomID, "error", err)
		return nil, err
	}

	out := make([]models.Message, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.ToMessage())
	}
	return out, nil
}

// MarkFinished finishes the room only while it is active.
func (s *Service) MarkFinished(ctx context.Context, roomID string, at time.Time) error {
	return s.transition(ctx, roomID, models.RoomActive, map[string]interface{}{
		"state":       string(models.RoomFinished),
		"finished_at": at.UTC(),
		"updated_at":  at.UTC(),
	})
}

// ListFinished returns one page of finished rooms. The page's transcripts
// are loaded with a single query.
func (s *Service) ListFinished(ctx context.Context, page Page) ([]models.Room, error) {
	page = page.Normalize()

	var recs []models.RoomRecord
	if err := s.DB.WithContext(ctx).
		Where("state = ?", string(models.RoomFinished)).
		Order("updated_at desc").
		Offset(page.Offset()).Limit(page.PageSize).
		Find(&recs).Error; err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.RoomID)
	}
	byRoom := make(map[string][]models.Message, len(recs))
	if len(ids) > 0 {
		var msgs []models.MessageRecord
		if err := s.DB.WithContext(ctx).
			Where("room_id IN ?", ids).
			Order("sent_at asc").Order("id asc").
			Find(&msgs).Error; err != nil {
			zap.S().Errorw("failed to load finished transcripts", "rooms", len(ids), "error", err)
			return nil, err
		}
		for _, m := range msgs {
			byRoom[m.RoomID] = append(byRoom[m.RoomID], m.ToMessage())
		}
	}

	out := make([]models.Room, 0, len(recs))
	for _, rec := range recs {
		room := rec.ToRoom()
		room.Messages = byRoom[rec.RoomID]
		if room.Messages == nil {
			room.Messages = []models.Message{}
		}
		out = append(out, room)
	}
	return out, nil
}
