package service

import (
	"Murmur/internal/gateway"
	"context"
	log "log/slog"
	"time"
)

// RoomInvalidator 游标推进后需要重新校准的未读数
type RoomInvalidator interface {
	InvalidateRoom(roomID uint64)
}

// ReadCursorManager 维护用户在各会话中的已读游标，游标只向前推进
type ReadCursorManager struct {
	gw          gateway.Gateway
	invalidator RoomInvalidator
	now         func() time.Time
}

func NewReadCursorManager(gw gateway.Gateway, invalidator RoomInvalidator, now func() time.Time) *ReadCursorManager {
	if now == nil {
		now = time.Now
	}
	return &ReadCursorManager{gw: gw, invalidator: invalidator, now: now}
}

// AdvanceCursor 将游标推进到会话最新消息。失败只记录日志，不影响进入会话；
// 无论成败都会让未读数重新校准
func (m *ReadCursorManager) AdvanceCursor(ctx context.Context, userID, roomID uint64) {
	defer m.invalidator.InvalidateRoom(roomID)

	latest, err := m.gw.GetLatestMessage(ctx, roomID)
	if err != nil {
		log.WarnContext(ctx, "advance cursor: get latest message failed", "user_id", userID, "room_id", roomID, "err", err)
		return
	}

	at := m.now()
	lastID := ""
	if latest != nil {
		lastID = latest.ID
		// 服务端时钟略快时，保证最新消息也算已读
		if latest.SentAt.After(at) {
			at = latest.SentAt
		}
	}

	if err := m.gw.UpsertReadCursor(ctx, userID, roomID, lastID, at); err != nil {
		log.WarnContext(ctx, "advance cursor: upsert failed", "user_id", userID, "room_id", roomID, "err", err)
		return
	}
	log.DebugContext(ctx, "read cursor advanced", "user_id", userID, "room_id", roomID, "message_id", lastID)
}
