package service

import (
	"Murmur/internal/gateway"
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/logger"
	"Murmur/internal/pkg/task"
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type PresenceState int32

const (
	PresenceIdle PresenceState = iota
	PresenceEntering
	PresenceActive
	PresenceLeaving
)

func (s PresenceState) String() string {
	switch s {
	case PresenceIdle:
		return "idle"
	case PresenceEntering:
		return "entering"
	case PresenceActive:
		return "active"
	case PresenceLeaving:
		return "leaving"
	default:
		return fmt.Sprintf("PresenceState(%d)", int32(s))
	}
}

type unreadMutator interface {
	ResetOptimistic(roomID uint64)
	InvalidateRoom(roomID uint64)
}

type pageResetter interface {
	Reset(roomID uint64)
}

type roomPresence struct {
	mu    sync.Mutex
	state atomic.Int32
}

func (r *roomPresence) load() PresenceState {
	return PresenceState(r.state.Load())
}

func (r *roomPresence) store(s PresenceState) {
	r.state.Store(int32(s))
}

// PresenceTracker 维护用户在各会话中的在线状态与心跳。
// 同一会话的进入与离开串行执行；存储错误只记录日志
type PresenceTracker struct {
	userID    uint64
	gw        gateway.Gateway
	cursors   *ReadCursorManager
	unread    unreadMutator
	feed      pageResetter
	cache     QueryCache
	arena     *task.Arena
	heartbeat time.Duration
	now       func() time.Time

	mu     sync.Mutex
	rooms  map[uint64]*roomPresence
	closed atomic.Bool
}

func NewPresenceTracker(
	userID uint64,
	gw gateway.Gateway,
	cursors *ReadCursorManager,
	unread unreadMutator,
	feed pageResetter,
	cache QueryCache,
	arena *task.Arena,
	heartbeat time.Duration,
	now func() time.Time,
) *PresenceTracker {
	if now == nil {
		now = time.Now
	}
	if cache == nil {
		cache = NopQueryCache{}
	}
	return &PresenceTracker{
		userID:    userID,
		gw:        gw,
		cursors:   cursors,
		unread:    unread,
		feed:      feed,
		cache:     cache,
		arena:     arena,
		heartbeat: heartbeat,
		now:       now,
		rooms:     make(map[uint64]*roomPresence),
	}
}

func heartbeatTaskName(roomID uint64) string {
	return fmt.Sprintf("heartbeat:%d", roomID)
}

func (t *PresenceTracker) room(roomID uint64, create bool) *roomPresence {
	t.mu.Lock()
	defer t.mu.Unlock()
	rp, ok := t.rooms[roomID]
	if !ok && create {
		rp = &roomPresence{}
		t.rooms[roomID] = rp
	}
	return rp
}

// EnterRoom 进入会话：清零未读、写入在线记录、推进游标、启动心跳。重复进入会替换旧心跳
func (t *PresenceTracker) EnterRoom(ctx context.Context, roomID uint64) {
	rp := t.room(roomID, true)
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if t.closed.Load() {
		return
	}

	rp.store(PresenceEntering)
	t.arena.Cancel(heartbeatTaskName(roomID))
	t.unread.ResetOptimistic(roomID)

	if err := t.gw.UpsertPresence(ctx, t.userID, roomID, t.now()); err != nil {
		log.WarnContext(ctx, "enter room: upsert presence failed", "user_id", t.userID, "room_id", roomID, "err", err)
	}
	t.cursors.AdvanceCursor(ctx, t.userID, roomID)

	t.startHeartbeat(roomID)
	rp.store(PresenceActive)
	log.InfoContext(ctx, "room entered", "user_id", t.userID, "room_id", roomID)
}

func (t *PresenceTracker) startHeartbeat(roomID uint64) {
	t.arena.Start(heartbeatTaskName(roomID), func(ctx context.Context) {
		ticker := time.NewTicker(t.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hbCtx := logger.WithTrace(ctx, "heartbeat")
				if err := t.gw.UpdatePresenceHeartbeat(hbCtx, t.userID, roomID, t.now()); err != nil {
					log.WarnContext(hbCtx, "presence heartbeat failed", "user_id", t.userID, "room_id", roomID, "err", err)
				}
			}
		}
	})
}

// LeaveRoom 离开会话：停止心跳、删除在线记录、清理分页缓存并触发未读数重新校准。可重复调用
func (t *PresenceTracker) LeaveRoom(ctx context.Context, roomID uint64) {
	rp := t.room(roomID, false)
	if rp == nil {
		return
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.load() == PresenceIdle {
		return
	}

	rp.store(PresenceLeaving)
	t.arena.Cancel(heartbeatTaskName(roomID))

	if err := t.gw.DeletePresence(ctx, t.userID, roomID); err != nil {
		log.WarnContext(ctx, "leave room: delete presence failed", "user_id", t.userID, "room_id", roomID, "err", err)
	}

	if err := t.cache.DeletePrefix(ctx, consts.MessagePagePrefix(t.userID, roomID)); err != nil {
		log.WarnContext(ctx, "leave room: clear page cache failed", "room_id", roomID, "err", err)
	}
	if err := t.cache.Delete(ctx, consts.RoomListCacheKey(t.userID)); err != nil {
		log.WarnContext(ctx, "leave room: clear room list cache failed", "err", err)
	}
	t.feed.Reset(roomID)
	t.unread.InvalidateRoom(roomID)

	rp.store(PresenceIdle)
	log.InfoContext(ctx, "room left", "user_id", t.userID, "room_id", roomID)
}

// State 会话当前状态
func (t *PresenceTracker) State(roomID uint64) PresenceState {
	rp := t.room(roomID, false)
	if rp == nil {
		return PresenceIdle
	}
	return rp.load()
}

// IsActive 进入中或已进入都视为在场，用于屏蔽未读加一
func (t *PresenceTracker) IsActive(roomID uint64) bool {
	st := t.State(roomID)
	return st == PresenceEntering || st == PresenceActive
}

// ActiveRooms 当前在场的会话
func (t *PresenceTracker) ActiveRooms() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	rooms := make([]uint64, 0, len(t.rooms))
	for id, rp := range t.rooms {
		if st := rp.load(); st == PresenceEntering || st == PresenceActive {
			rooms = append(rooms, id)
		}
	}
	return rooms
}

// Close 离开所有会话，之后的 EnterRoom 不再生效
func (t *PresenceTracker) Close(ctx context.Context) {
	t.closed.Store(true)
	for _, roomID := range t.ActiveRooms() {
		t.LeaveRoom(ctx, roomID)
	}
}
