package repository

import (
	"Murmur/internal/model"
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PresenceRepo interface {
	Upsert(ctx context.Context, userID, roomID uint64, at time.Time) error
	Heartbeat(ctx context.Context, userID, roomID uint64, at time.Time) error
	Delete(ctx context.Context, userID, roomID uint64) error
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

type presenceRepoImpl struct {
	db *gorm.DB
}

func NewPresenceRepo(db *gorm.DB) PresenceRepo {
	return &presenceRepoImpl{db: db}
}

// Upsert 进入会话，重复进入只刷新时间
func (s *presenceRepoImpl) Upsert(ctx context.Context, userID, roomID uint64, at time.Time) error {
	session := &model.PresenceSession{
		UserID:          userID,
		RoomID:          roomID,
		EnteredAt:       at,
		LastHeartbeatAt: at,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"entered_at", "last_heartbeat_at"}),
	}).Create(session).Error
}

// Heartbeat 刷新心跳；记录已被清理时重新写入
func (s *presenceRepoImpl) Heartbeat(ctx context.Context, userID, roomID uint64, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.PresenceSession{}).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Update("last_heartbeat_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	return s.Upsert(ctx, userID, roomID, at)
}

// Delete 离开会话
func (s *presenceRepoImpl) Delete(ctx context.Context, userID, roomID uint64) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Delete(&model.PresenceSession{}).Error
}

// DeleteStale 清理心跳早于 before 的记录
func (s *presenceRepoImpl) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("last_heartbeat_at < ?", before).
		Delete(&model.PresenceSession{})
	return result.RowsAffected, result.Error
}
