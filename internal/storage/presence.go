package storage

import (
	"context"

	"supportchat/backend/internal/models"
)

func presenceKey(role models.Role) string {
	return "support:online:" + string(role)
}

// MarkOnline adds the user to the role's online set in redis.
func (s *Service) MarkOnline(ctx context.Context, role models.Role, userID string) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.SAdd(ctx, presenceKey(role), userID).Err()
}

// MarkOffline removes the user from the role's online set.
func (s *Service) MarkOffline(ctx context.Context, role models.Role, userID string) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.SRem(ctx, presenceKey(role), userID).Err()
}

func (s *Service) OnlineCount(ctx context.Context, role models.Role) (int64, error) {
	if s.Redis == nil {
		return 0, nil
	}
	return s.Redis.SCard(ctx, presenceKey(role)).Result()
}
