package dto

import "time"

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID          string    `json:"id"`
	RoomID      uint64    `json:"roomId"`
	SenderID    uint64    `json:"senderId"`
	Type        string    `json:"type"`
	Content     string    `json:"content"`
	FileID      string    `json:"fileId,omitempty"`
	SentAt      time.Time `json:"sentAt"`
	UnreadCount int       `json:"unreadCount"` // 尚未读到这条消息的其他成员数
}

// RoomDTO 会话列表项响应
type RoomDTO struct {
	ID          uint64      `json:"id"`
	Name        string      `json:"name"`
	IsDirect    bool        `json:"isDirect"`
	MemberIDs   []uint64    `json:"memberIds"`
	LastMessage *MessageDTO `json:"lastMessage,omitempty"`
	UnreadCount int         `json:"unreadCount"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// MessagePageDTO 一页消息，页内按发送时间升序
type MessagePageDTO struct {
	RoomID      uint64        `json:"roomId"`
	Page        int           `json:"page"`
	Messages    []*MessageDTO `json:"messages"`
	HasNextPage bool          `json:"hasNextPage"`
}

// PageQuery 分页参数，第 0 页为最新一页
type PageQuery struct {
	Page int `form:"page" validate:"min=0"`
}

// RoomURI 路径中的会话 ID
type RoomURI struct {
	RoomID uint64 `uri:"room_id" validate:"required"`
}
