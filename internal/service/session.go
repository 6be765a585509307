package service

import (
	"Murmur/internal/api/config"
	"Murmur/internal/gateway"
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/logger"
	"Murmur/internal/pkg/task"
	"Murmur/internal/pkg/util"
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Session 一个登录用户的全部同步状态，登录时创建，登出时释放
type Session struct {
	UserID uint64

	Unread   *UnreadService
	Cursors  *ReadCursorManager
	Presence *PresenceTracker
	Feed     *Feed
	Router   *EventRouter

	gw    gateway.Gateway
	cache QueryCache
	cfg   config.SyncConfig
	arena *task.Arena
	cron  *cron.Cron
	now   func() time.Time

	holdMu  sync.Mutex
	holders map[uint64]*roomHolders

	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	closed     atomic.Bool
	lastActive atomic.Int64
}

// NewSession 组装会话内的各个组件，调用 Open 后生效
func NewSession(parent context.Context, userID uint64, gw gateway.Gateway, cache QueryCache, cfg config.SyncConfig, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	if cache == nil {
		cache = NopQueryCache{}
	}
	ctx, cancel := context.WithCancel(parent)
	arena := task.NewArena(ctx)
	retry := util.RetryPolicy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay}

	s := &Session{
		UserID: userID,
		gw:     gw,
		cache:  cache,
		cfg:    cfg,
		arena:  arena,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:    now,
		ctx:    ctx,
		cancel: cancel,

		holders: make(map[uint64]*roomHolders),
	}

	store := NewUnreadStore(cfg.SyncThreshold, now)
	s.Unread = NewUnreadService(userID, gw, store, arena, retry, cfg.ReconcileDelay)
	s.Cursors = NewReadCursorManager(gw, s.Unread, now)
	s.Feed = NewFeed(userID, gw, cache, cfg.PageSize, retry)
	s.Presence = NewPresenceTracker(userID, gw, s.Cursors, s.Unread, s.Feed, cache, arena, cfg.HeartbeatInterval, now)
	s.Router = NewEventRouter(userID, gw, s.Unread, s.Presence, arena, s.Resync)
	s.touch()
	return s
}

// Open 订阅推送、启动定期漂移检查，并异步做首次全量同步
func (s *Session) Open() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.Router.Start()

	spec := fmt.Sprintf("@every %s", s.cfg.SyncCheckInterval)
	if _, err := s.cron.AddFunc(spec, func() {
		s.Unread.CheckSync(logger.WithTrace(s.ctx, "drift"))
	}); err != nil {
		s.Router.Stop()
		return err
	}
	s.cron.Start()

	s.arena.Go(func(ctx context.Context) {
		_ = s.Unread.Refresh(logger.WithTrace(ctx, "hydrate"), "open")
	})
	log.Info("session opened", "user_id", s.UserID)
	return nil
}

// Resync 回到前台或网络恢复时调用：清掉查询缓存后全量刷新
func (s *Session) Resync(ctx context.Context, reason string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.touch()
	if err := s.cache.Delete(ctx, consts.RoomListCacheKey(s.UserID)); err != nil {
		log.WarnContext(ctx, "resync: clear room list cache failed", "user_id", s.UserID, "err", err)
	}
	if err := s.cache.DeletePrefix(ctx, consts.UserPagesPrefix(s.UserID)); err != nil {
		log.WarnContext(ctx, "resync: clear page cache failed", "user_id", s.UserID, "err", err)
	}
	return s.Unread.Refresh(ctx, reason)
}

func (s *Session) checkMember(ctx context.Context, roomID uint64) error {
	ok, err := s.gw.IsMember(ctx, roomID, s.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRoomMember
	}
	return nil
}

// DefaultHolder 不区分连接的调用方（HTTP 接口）共用的持有者
const DefaultHolder = "default"

// roomHolders 同一用户在某个会话上的持有者集合，例如多条长连接
type roomHolders struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func (s *Session) holdersOf(roomID uint64) *roomHolders {
	s.holdMu.Lock()
	defer s.holdMu.Unlock()
	rh, ok := s.holders[roomID]
	if !ok {
		rh = &roomHolders{set: make(map[string]struct{})}
		s.holders[roomID] = rh
	}
	return rh
}

// EnterRoom 以 DefaultHolder 进入会话
func (s *Session) EnterRoom(ctx context.Context, roomID uint64) error {
	return s.EnterRoomAs(ctx, DefaultHolder, roomID)
}

// LeaveRoom 以 DefaultHolder 离开会话
func (s *Session) LeaveRoom(ctx context.Context, roomID uint64) error {
	return s.LeaveRoomAs(ctx, DefaultHolder, roomID)
}

// EnterRoomAs 校验成员身份后进入会话，并登记持有者
func (s *Session) EnterRoomAs(ctx context.Context, holder string, roomID uint64) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.touch()
	if err := s.checkMember(ctx, roomID); err != nil {
		return err
	}

	rh := s.holdersOf(roomID)
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.set[holder] = struct{}{}
	s.Presence.EnterRoom(ctx, roomID)
	return nil
}

// LeaveRoomAs 注销持有者，最后一个持有者离开时才真正离开会话。会话已关闭时忽略
func (s *Session) LeaveRoomAs(ctx context.Context, holder string, roomID uint64) error {
	if s.closed.Load() {
		return nil
	}
	s.touch()

	rh := s.holdersOf(roomID)
	rh.mu.Lock()
	defer rh.mu.Unlock()
	delete(rh.set, holder)
	if len(rh.set) > 0 {
		log.DebugContext(ctx, "room still held", "user_id", s.UserID, "room_id", roomID, "holders", len(rh.set))
		return nil
	}
	s.Presence.LeaveRoom(ctx, roomID)
	return nil
}

// Holders 会话当前的持有者数
func (s *Session) Holders(roomID uint64) int {
	rh := s.holdersOf(roomID)
	rh.mu.Lock()
	defer rh.mu.Unlock()
	return len(rh.set)
}

// FetchPage 拉取消息分页
func (s *Session) FetchPage(ctx context.Context, roomID uint64, page int) (*MessagePage, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	s.touch()
	if err := s.checkMember(ctx, roomID); err != nil {
		return nil, err
	}
	return s.Feed.FetchPage(ctx, roomID, page)
}

// Rooms 会话列表，优先读查询缓存
func (s *Session) Rooms(ctx context.Context) ([]*gateway.RoomSummary, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	s.touch()

	key := consts.RoomListCacheKey(s.UserID)
	var rooms []*gateway.RoomSummary
	hit, err := s.cache.Get(ctx, key, &rooms)
	if err != nil {
		log.WarnContext(ctx, "room list cache read failed", "user_id", s.UserID, "err", err)
	}
	if hit {
		return rooms, nil
	}

	rooms, err = s.gw.GetRoomsForUser(ctx, s.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, rooms); err != nil {
		log.WarnContext(ctx, "room list cache write failed", "user_id", s.UserID, "err", err)
	}
	return rooms, nil
}

func (s *Session) Snapshot() UnreadSnapshot {
	return s.Unread.Snapshot()
}

// SubscribeUnread 订阅未读数快照的变化
func (s *Session) SubscribeUnread(fn func(UnreadSnapshot)) func() {
	return s.Unread.Subscribe(fn)
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// IdleFor 距最后一次操作的时长
func (s *Session) IdleFor() time.Duration {
	return s.now().Sub(time.Unix(0, s.lastActive.Load()))
}

// Close 离开所有会话、取消订阅与后台任务。可重复调用
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.Router.Stop()
		<-s.cron.Stop().Done()
		s.Presence.Close(ctx)
		s.arena.Close()
		s.cancel()
		log.Info("session closed", "user_id", s.UserID)
	})
}
