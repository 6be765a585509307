package service

import (
	"Murmur/internal/gateway"
	"Murmur/internal/pkg/logger"
	"Murmur/internal/pkg/task"
	"Murmur/internal/pkg/util"
	"context"
	"errors"
	log "log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// UnreadService 未读数的读写入口。所有权威刷新都经过 Refresh
type UnreadService struct {
	userID         uint64
	gw             gateway.Gateway
	store          *UnreadStore
	arena          *task.Arena
	retry          util.RetryPolicy
	reconcileDelay time.Duration

	flight  singleflight.Group
	pending atomic.Bool
	fetches atomic.Int64

	// requested 每次 Refresh 调用递增；hydrated 为已落地的拉取开始时的序号
	requested atomic.Uint64
	hydrated  atomic.Uint64
}

func NewUnreadService(
	userID uint64,
	gw gateway.Gateway,
	store *UnreadStore,
	arena *task.Arena,
	retry util.RetryPolicy,
	reconcileDelay time.Duration,
) *UnreadService {
	return &UnreadService{
		userID:         userID,
		gw:             gw,
		store:          store,
		arena:          arena,
		retry:          retry,
		reconcileDelay: reconcileDelay,
	}
}

func (s *UnreadService) Store() *UnreadStore {
	return s.store
}

// Refresh 全量拉取并覆盖本地缓存，并发调用合并为一次请求。
// 加入的请求若早于调用方发起，返回后再拉取一次，保证结果不早于本次调用
func (s *UnreadService) Refresh(ctx context.Context, reason string) error {
	seq := s.requested.Add(1)
	for {
		if s.hydrated.Load() >= seq {
			return nil
		}
		v, err, shared := s.flight.Do("refresh", func() (any, error) {
			return s.fetchAll(ctx, reason)
		})
		if err != nil {
			return err
		}
		if start := v.(uint64); start >= seq {
			return nil
		}
		if shared {
			log.DebugContext(ctx, "unread refresh joined a stale fetch, refetching", "user_id", s.userID, "reason", reason)
		}
	}
}

// fetchAll 返回本次拉取开始时的请求序号
func (s *UnreadService) fetchAll(ctx context.Context, reason string) (uint64, error) {
	start := s.requested.Load()
	s.store.SetSyncing(true)
	defer s.store.SetSyncing(false)

	s.fetches.Add(1)
	var counts []gateway.UnreadCount
	err := util.Retry(ctx, s.retry, "get unread counts", func(ctx context.Context) error {
		var err error
		counts, err = s.gw.GetUnreadCountsForUser(ctx, s.userID)
		return err
	})
	if err != nil {
		s.store.SetSyncError(err)
		log.ErrorContext(ctx, "unread refresh failed", "user_id", s.userID, "reason", reason, "err", err)
		return start, err
	}

	s.store.HydrateAll(counts)
	for {
		cur := s.hydrated.Load()
		if cur >= start || s.hydrated.CompareAndSwap(cur, start) {
			break
		}
	}
	log.DebugContext(ctx, "unread refreshed", "user_id", s.userID, "reason", reason, "rooms", len(counts))
	return start, nil
}

// RefreshRoom 立即拉取单个会话的权威未读数
func (s *UnreadService) RefreshRoom(ctx context.Context, roomID uint64) error {
	var (
		n         int
		notMember bool
	)
	err := util.Retry(ctx, s.retry, "get room unread count", func(ctx context.Context) error {
		var err error
		n, err = s.gw.GetUnreadCountForRoom(ctx, s.userID, roomID)
		if errors.Is(err, gateway.ErrNotMember) {
			notMember = true
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if notMember {
		s.store.Forget(roomID)
		return nil
	}
	s.store.Hydrate([]uint64{roomID}, []gateway.UnreadCount{{RoomID: roomID, Count: n}})
	return nil
}

// IncrementOptimistic 收到新消息时乐观加一，并安排延迟校准
func (s *UnreadService) IncrementOptimistic(roomID uint64) {
	s.store.IncrementOptimistic(roomID)
	s.ScheduleReconcile("optimistic")
}

// ResetOptimistic 进入会话时乐观清零，校准由游标推进触发
func (s *UnreadService) ResetOptimistic(roomID uint64) {
	s.store.ResetOptimistic(roomID)
}

// InvalidateRoom 标记会话数据已过期，延迟后走权威刷新
func (s *UnreadService) InvalidateRoom(roomID uint64) {
	s.ScheduleReconcile("invalidate")
}

// ScheduleReconcile 延迟 reconcileDelay 后刷新，等待期间的多次调用只触发一次
func (s *UnreadService) ScheduleReconcile(reason string) {
	if !s.pending.CompareAndSwap(false, true) {
		return
	}
	started := s.arena.Go(func(ctx context.Context) {
		timer := time.NewTimer(s.reconcileDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			s.pending.Store(false)
			return
		case <-timer.C:
		}
		s.pending.Store(false)

		_ = s.Refresh(logger.WithTrace(ctx, "reconcile"), reason)
	})
	if !started {
		s.pending.Store(false)
	}
}

// CheckSync 超过同步阈值时刷新
func (s *UnreadService) CheckSync(ctx context.Context) {
	if !s.store.NeedsSync() {
		return
	}
	_ = s.Refresh(ctx, "periodic")
}

// KnowsRoom 最近一次全量同步是否包含该会话
func (s *UnreadService) KnowsRoom(roomID uint64) bool {
	return s.store.HasRoom(roomID)
}

func (s *UnreadService) Count(roomID uint64) int {
	return s.store.Count(roomID)
}

func (s *UnreadService) Snapshot() UnreadSnapshot {
	return s.store.Snapshot()
}

func (s *UnreadService) Subscribe(fn func(UnreadSnapshot)) func() {
	return s.store.Subscribe(fn)
}

// FetchCount 发起过的全量请求次数
func (s *UnreadService) FetchCount() int64 {
	return s.fetches.Load()
}
