package repository

import (
	"Murmur/internal/model"
	"context"
	"time"

	"gorm.io/gorm"
)

type RoomRepo interface {
	CreateRoom(ctx context.Context, room *model.Room, members []*model.RoomMember) error
	GetRoomsForUser(ctx context.Context, userID uint64) ([]*model.Room, error)
	GetRoomIDsForUser(ctx context.Context, userID uint64) ([]uint64, error)
	GetRoomMembers(ctx context.Context, roomID uint64) ([]*model.RoomMember, error)
	IsMember(ctx context.Context, roomID uint64, userID uint64) (bool, error)
}

type roomRepoImpl struct {
	db *gorm.DB
}

func NewRoomRepo(db *gorm.DB) RoomRepo {
	return &roomRepoImpl{db: db}
}

// CreateRoom 开启事务创建会话及初始成员
func (s *roomRepoImpl) CreateRoom(ctx context.Context, room *model.Room, members []*model.RoomMember) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members").Create(room).Error; err != nil {
			return err
		}
		for _, m := range members {
			m.RoomID = room.ID
			if m.JoinedAt.IsZero() {
				m.JoinedAt = time.Now()
			}
			if m.Role == "" {
				m.Role = model.RoleMember
			}
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRoomsForUser 获取用户所在的全部会话，成员列表一并装配
func (s *roomRepoImpl) GetRoomsForUser(ctx context.Context, userID uint64) ([]*model.Room, error) {
	var rooms []*model.Room
	sub := s.db.Model(&model.RoomMember{}).Select("room_id").Where("user_id = ?", userID)
	err := s.db.WithContext(ctx).
		Preload("Members").
		Where("id IN (?)", sub).
		Order("updated_at DESC, id DESC").
		Find(&rooms).Error
	return rooms, err
}

// GetRoomIDsForUser 获取用户所在的会话 ID
func (s *roomRepoImpl) GetRoomIDsForUser(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&model.RoomMember{}).
		Where("user_id = ?", userID).
		Order("room_id").
		Pluck("room_id", &ids).Error
	return ids, err
}

// GetRoomMembers 获取会话成员
func (s *roomRepoImpl) GetRoomMembers(ctx context.Context, roomID uint64) ([]*model.RoomMember, error) {
	var members []*model.RoomMember
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Find(&members).Error
	return members, err
}

// IsMember 检查用户是否是会话成员
func (s *roomRepoImpl) IsMember(ctx context.Context, roomID uint64, userID uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}
