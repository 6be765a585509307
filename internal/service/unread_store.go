package service

import (
	"Murmur/internal/gateway"
	"sync"
	"time"
)

// overlay 乐观层：reset 表示进入会话时清零，delta 为之后收到的新消息数
type overlay struct {
	reset bool
	delta int
}

// UnreadSnapshot 未读数的只读快照
type UnreadSnapshot struct {
	Counts       map[uint64]int `json:"counts"`
	Total        int            `json:"total"`
	LastSyncTime time.Time      `json:"lastSyncTime"`
	IsSyncing    bool           `json:"isSyncing"`
	SyncError    string         `json:"syncError,omitempty"`
	Version      uint64         `json:"version"`
}

// UnreadStore 两层未读数缓存：权威快照 + 乐观增量。
// 权威数据写入时清掉对应会话的乐观层，乐观层无法覆盖权威值。
type UnreadStore struct {
	mu            sync.Mutex
	authoritative map[uint64]int
	overlays      map[uint64]overlay
	lastSync      time.Time
	syncing       bool
	syncErr       error
	version       uint64

	threshold time.Duration
	now       func() time.Time

	listenerID uint64
	listeners  map[uint64]func(UnreadSnapshot)
}

func NewUnreadStore(threshold time.Duration, now func() time.Time) *UnreadStore {
	if now == nil {
		now = time.Now
	}
	return &UnreadStore{
		authoritative: make(map[uint64]int),
		overlays:      make(map[uint64]overlay),
		threshold:     threshold,
		now:           now,
		listeners:     make(map[uint64]func(UnreadSnapshot)),
	}
}

// HydrateAll 用全量结果整体替换，并记录同步时间
func (s *UnreadStore) HydrateAll(counts []gateway.UnreadCount) {
	s.mutate(func() {
		s.authoritative = make(map[uint64]int, len(counts))
		for _, c := range counts {
			s.authoritative[c.RoomID] = c.Count
		}
		s.overlays = make(map[uint64]overlay)
		s.lastSync = s.now()
		s.syncErr = nil
	})
}

// Hydrate 覆盖 rooms 中列出的会话，counts 里缺失的会话按 0 处理
func (s *UnreadStore) Hydrate(rooms []uint64, counts []gateway.UnreadCount) {
	byRoom := make(map[uint64]int, len(counts))
	for _, c := range counts {
		byRoom[c.RoomID] = c.Count
	}
	s.mutate(func() {
		for _, roomID := range rooms {
			s.authoritative[roomID] = byRoom[roomID]
			delete(s.overlays, roomID)
		}
	})
}

// IncrementOptimistic 乐观加一
func (s *UnreadStore) IncrementOptimistic(roomID uint64) {
	s.mutate(func() {
		ov := s.overlays[roomID]
		ov.delta++
		s.overlays[roomID] = ov
	})
}

// ResetOptimistic 乐观清零，等待权威数据确认
func (s *UnreadStore) ResetOptimistic(roomID uint64) {
	s.mutate(func() {
		s.overlays[roomID] = overlay{reset: true}
	})
}

// Forget 移除会话，例如用户已不在该会话中
func (s *UnreadStore) Forget(roomID uint64) {
	s.mutate(func() {
		delete(s.authoritative, roomID)
		delete(s.overlays, roomID)
	})
}

func (s *UnreadStore) Count(roomID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveLocked(roomID)
}

func (s *UnreadStore) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for roomID := range s.roomsLocked() {
		total += s.effectiveLocked(roomID)
	}
	return total
}

// HasRoom 最近一次全量同步是否包含该会话
func (s *UnreadStore) HasRoom(roomID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.authoritative[roomID]
	return ok
}

// NeedsSync 从未同步过，或距上次同步超过阈值
func (s *UnreadStore) NeedsSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSync.IsZero() {
		return true
	}
	return s.now().Sub(s.lastSync) > s.threshold
}

func (s *UnreadStore) SetSyncing(syncing bool) {
	s.mutate(func() {
		s.syncing = syncing
	})
}

func (s *UnreadStore) SetSyncError(err error) {
	s.mutate(func() {
		s.syncErr = err
	})
}

func (s *UnreadStore) Snapshot() UnreadSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe 每次变化后推送快照，返回取消函数
func (s *UnreadStore) Subscribe(fn func(UnreadSnapshot)) func() {
	s.mu.Lock()
	s.listenerID++
	id := s.listenerID
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Clear 清空全部状态
func (s *UnreadStore) Clear() {
	s.mutate(func() {
		s.authoritative = make(map[uint64]int)
		s.overlays = make(map[uint64]overlay)
		s.lastSync = time.Time{}
		s.syncing = false
		s.syncErr = nil
	})
}

func (s *UnreadStore) mutate(fn func()) {
	s.mu.Lock()
	fn()
	s.version++
	snap := s.snapshotLocked()
	listeners := make([]func(UnreadSnapshot), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (s *UnreadStore) effectiveLocked(roomID uint64) int {
	base := s.authoritative[roomID]
	ov, ok := s.overlays[roomID]
	if !ok {
		return base
	}
	if ov.reset {
		base = 0
	}
	if n := base + ov.delta; n > 0 {
		return n
	}
	return 0
}

func (s *UnreadStore) roomsLocked() map[uint64]struct{} {
	rooms := make(map[uint64]struct{}, len(s.authoritative)+len(s.overlays))
	for roomID := range s.authoritative {
		rooms[roomID] = struct{}{}
	}
	for roomID := range s.overlays {
		rooms[roomID] = struct{}{}
	}
	return rooms
}

func (s *UnreadStore) snapshotLocked() UnreadSnapshot {
	rooms := s.roomsLocked()
	snap := UnreadSnapshot{
		Counts:       make(map[uint64]int, len(rooms)),
		LastSyncTime: s.lastSync,
		IsSyncing:    s.syncing,
		Version:      s.version,
	}
	for roomID := range rooms {
		n := s.effectiveLocked(roomID)
		snap.Counts[roomID] = n
		snap.Total += n
	}
	if s.syncErr != nil {
		snap.SyncError = s.syncErr.Error()
	}
	return snap
}
