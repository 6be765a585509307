package gateway

import (
	"Murmur/internal/model"
	"Murmur/internal/pkg/changefeed"
	"Murmur/internal/pkg/mongo"
	"context"
	"errors"
	"time"
)

var ErrNotMember = errors.New("user is not a member of the room")

// RoomSummary 会话及其最新一条消息
type RoomSummary struct {
	Room        *model.Room
	LastMessage *mongo.Message
}

// UnreadCount 单个会话的未读数
type UnreadCount struct {
	RoomID uint64 `json:"roomId"`
	Count  int    `json:"count"`
}

// MessageUnread 单条消息尚未被其他成员读到的人数
type MessageUnread struct {
	MessageID string `json:"messageId"`
	Count     int    `json:"count"`
}

// Gateway 后端存储的读写入口以及变更推送通道
type Gateway interface {
	GetRoomsForUser(ctx context.Context, userID uint64) ([]*RoomSummary, error)
	IsMember(ctx context.Context, roomID, userID uint64) (bool, error)

	GetUnreadCountsForUser(ctx context.Context, userID uint64) ([]UnreadCount, error)
	GetUnreadCountForRoom(ctx context.Context, userID, roomID uint64) (int, error)
	GetUnreadCountsForMessages(ctx context.Context, roomID uint64, limit, offset int) ([]MessageUnread, error)

	GetMessagesPage(ctx context.Context, roomID uint64, offset, limit int) ([]*mongo.Message, error)
	GetMessagesPageWithUnread(ctx context.Context, roomID uint64, offset, limit int) ([]*mongo.Message, []MessageUnread, error)
	GetLatestMessage(ctx context.Context, roomID uint64) (*mongo.Message, error)

	UpsertPresence(ctx context.Context, userID, roomID uint64, at time.Time) error
	DeletePresence(ctx context.Context, userID, roomID uint64) error
	UpdatePresenceHeartbeat(ctx context.Context, userID, roomID uint64, at time.Time) error
	DeleteStalePresence(ctx context.Context, before time.Time) (int64, error)

	GetReadCursor(ctx context.Context, userID, roomID uint64) (*model.ReadCursor, error)
	UpsertReadCursor(ctx context.Context, userID, roomID uint64, lastMessageID string, at time.Time) error

	SubscribeToChanges(table string, predicate changefeed.Predicate, handler changefeed.Handler) changefeed.Unsubscribe
	OnReconnect(cb func(source string)) changefeed.Unsubscribe
}
