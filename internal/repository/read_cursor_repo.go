package repository

import (
	"Murmur/internal/model"
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReadCursorRepo interface {
	Upsert(ctx context.Context, cursor *model.ReadCursor) error
	Get(ctx context.Context, userID, roomID uint64) (*model.ReadCursor, error)
	ListByUser(ctx context.Context, userID uint64) ([]*model.ReadCursor, error)
	ListByRoom(ctx context.Context, roomID uint64) ([]*model.ReadCursor, error)
}

type readCursorRepoImpl struct {
	db *gorm.DB
}

func NewReadCursorRepo(db *gorm.DB) ReadCursorRepo {
	return &readCursorRepoImpl{db: db}
}

// Upsert 写入已读游标，(user, room) 冲突时只前进不后退：
// 新的 last_read_at 不早于已有值时才替换消息 ID，时间取两者较大值
func (s *readCursorRepoImpl) Upsert(ctx context.Context, cursor *model.ReadCursor) error {
	cursor.LastReadAt = cursor.LastReadAt.UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "room_id"}},
		DoUpdates: monotonicCursorSet(s.db.Dialector.Name()),
	}).Create(cursor).Error
}

// monotonicCursorSet MySQL 按顺序求值赋值语句，消息 ID 必须先于 last_read_at 更新
func monotonicCursorSet(dialect string) clause.Set {
	incoming := func(col string) string { return "VALUES(" + col + ")" }
	greatest := "GREATEST"
	if dialect == "sqlite" {
		incoming = func(col string) string { return "excluded." + col }
		greatest = "MAX"
	}
	return clause.Set{
		{
			Column: clause.Column{Name: "last_read_message_id"},
			Value: gorm.Expr("CASE WHEN " + incoming("last_read_at") + " >= last_read_at THEN " +
				incoming("last_read_message_id") + " ELSE last_read_message_id END"),
		},
		{
			Column: clause.Column{Name: "last_read_at"},
			Value:  gorm.Expr(greatest + "(last_read_at, " + incoming("last_read_at") + ")"),
		},
		{
			Column: clause.Column{Name: "updated_at"},
			Value:  gorm.Expr(incoming("updated_at")),
		},
	}
}

// Get 获取已读游标，不存在时返回 nil
func (s *readCursorRepoImpl) Get(ctx context.Context, userID, roomID uint64) (*model.ReadCursor, error) {
	var cursor model.ReadCursor
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

// ListByUser 获取用户在所有会话中的游标
func (s *readCursorRepoImpl) ListByUser(ctx context.Context, userID uint64) ([]*model.ReadCursor, error) {
	cursors := make([]*model.ReadCursor, 0)
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&cursors).Error
	return cursors, err
}

// ListByRoom 获取会话内所有成员的游标
func (s *readCursorRepoImpl) ListByRoom(ctx context.Context, roomID uint64) ([]*model.ReadCursor, error) {
	cursors := make([]*model.ReadCursor, 0)
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Find(&cursors).Error
	return cursors, err
}
