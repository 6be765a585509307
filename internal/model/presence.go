package model

import "time"

// PresenceSession 用户停留在会话中的临时记录，心跳超时后由定时任务清理
type PresenceSession struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          uint64    `gorm:"uniqueIndex:idx_presence_user_room" json:"userId"`
	RoomID          uint64    `gorm:"uniqueIndex:idx_presence_user_room" json:"roomId"`
	EnteredAt       time.Time `json:"enteredAt"`
	LastHeartbeatAt time.Time `gorm:"index" json:"lastHeartbeatAt"`
}

func (PresenceSession) TableName() string { return "presence_sessions" }
