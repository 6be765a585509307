package model

import "time"

// ReadCursor 用户在会话中的已读位置，每个 (user, room) 仅一行
type ReadCursor struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            uint64    `gorm:"uniqueIndex:idx_cursor_user_room" json:"userId"`
	RoomID            uint64    `gorm:"uniqueIndex:idx_cursor_user_room;index" json:"roomId"`
	LastReadMessageID string    `gorm:"type:varchar(64)" json:"lastReadMessageId"`
	LastReadAt        time.Time `json:"lastReadAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (ReadCursor) TableName() string { return "read_cursors" }
