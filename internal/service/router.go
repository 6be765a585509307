package service

import (
	"Murmur/internal/gateway"
	"Murmur/internal/pkg/changefeed"
	"Murmur/internal/pkg/logger"
	"Murmur/internal/pkg/task"
	"context"
	log "log/slog"
	"sync"
)

type presenceChecker interface {
	IsActive(roomID uint64) bool
}

// EventRouter 把推送通道上的变更分发给当前用户的未读数缓存
type EventRouter struct {
	userID   uint64
	gw       gateway.Gateway
	unread   *UnreadService
	presence presenceChecker
	arena    *task.Arena
	resync   func(ctx context.Context, reason string) error

	mu     sync.Mutex
	unsubs []changefeed.Unsubscribe
}

func NewEventRouter(
	userID uint64,
	gw gateway.Gateway,
	unread *UnreadService,
	presence presenceChecker,
	arena *task.Arena,
	resync func(ctx context.Context, reason string) error,
) *EventRouter {
	return &EventRouter{
		userID:   userID,
		gw:       gw,
		unread:   unread,
		presence: presence,
		arena:    arena,
		resync:   resync,
	}
}

// Start 订阅消息插入、本人游标变更与通道重连
func (r *EventRouter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.unsubs) > 0 {
		return
	}
	r.unsubs = append(r.unsubs,
		r.gw.SubscribeToChanges(changefeed.TableMessages, r.isIncomingMessage, r.onMessage),
		r.gw.SubscribeToChanges(changefeed.TableReadCursors, r.isOwnCursor, r.onCursor),
		r.gw.OnReconnect(r.onReconnect),
	)
}

// Stop 取消全部订阅
func (r *EventRouter) Stop() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// isIncomingMessage 他人发送、且属于已知会话的新消息。
// 未知会话等下一次全量同步后再纳入
func (r *EventRouter) isIncomingMessage(c changefeed.Change) bool {
	if c.Op != changefeed.OpInsert {
		return false
	}
	if c.Row.Uint64("sender_id") == r.userID {
		return false
	}
	return r.unread.KnowsRoom(c.Row.Uint64("room_id"))
}

func (r *EventRouter) onMessage(ctx context.Context, c changefeed.Change) {
	roomID := c.Row.Uint64("room_id")
	if r.presence.IsActive(roomID) {
		log.DebugContext(ctx, "unread increment suppressed while present", "user_id", r.userID, "room_id", roomID)
		return
	}
	r.unread.IncrementOptimistic(roomID)
}

func (r *EventRouter) isOwnCursor(c changefeed.Change) bool {
	if c.Op != changefeed.OpInsert && c.Op != changefeed.OpUpdate {
		return false
	}
	return c.Row.Uint64("user_id") == r.userID
}

// onCursor 其他设备推进了游标，立即拉取该会话的权威未读数
func (r *EventRouter) onCursor(ctx context.Context, c changefeed.Change) {
	roomID := c.Row.Uint64("room_id")
	traceID := logger.TraceID(ctx)
	r.arena.Go(func(ctx context.Context) {
		ctx = logger.WithTrace(ctx, "cursor")
		if err := r.unread.RefreshRoom(ctx, roomID); err != nil {
			log.WarnContext(ctx, "refresh room after cursor change failed",
				"user_id", r.userID, "room_id", roomID, "origin_trace", traceID, "err", err)
		}
	})
}

// onReconnect 推送通道恢复后，断线期间的事件可能已丢失，整体重新同步
func (r *EventRouter) onReconnect(source string) {
	r.arena.Go(func(ctx context.Context) {
		ctx = logger.WithTrace(ctx, "resync")
		if err := r.resync(ctx, "reconnect:"+source); err != nil {
			log.WarnContext(ctx, "resync after reconnect failed", "user_id", r.userID, "source", source, "err", err)
		}
	})
}
