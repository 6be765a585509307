package service

import (
	"Murmur/internal/api/config"
	"Murmur/internal/gateway"
	"Murmur/internal/pkg/logger"
	"context"
	log "log/slog"
	"sync"
	"time"
)

type managedSession struct {
	session *Session
	refs    int
}

// SessionManager 按用户维护 Session，长连接通过引用计数持有
type SessionManager struct {
	ctx   context.Context
	gw    gateway.Gateway
	cache QueryCache
	cfg   config.SyncConfig
	now   func() time.Time

	mu       sync.Mutex
	sessions map[uint64]*managedSession
	closed   bool
}

func NewSessionManager(ctx context.Context, gw gateway.Gateway, cache QueryCache, cfg config.SyncConfig) *SessionManager {
	return &SessionManager{
		ctx:      ctx,
		gw:       gw,
		cache:    cache,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[uint64]*managedSession),
	}
}

func (m *SessionManager) getOrOpenLocked(userID uint64) (*managedSession, error) {
	if m.closed {
		return nil, ErrSessionClosed
	}
	if ms, ok := m.sessions[userID]; ok && !ms.session.Closed() {
		return ms, nil
	}
	s := NewSession(m.ctx, userID, m.gw, m.cache, m.cfg, m.now)
	if err := s.Open(); err != nil {
		s.Close(m.ctx)
		return nil, err
	}
	ms := &managedSession{session: s}
	m.sessions[userID] = ms
	return ms, nil
}

// Acquire 获取并持有用户的 Session，需与 Release 成对调用
func (m *SessionManager) Acquire(userID uint64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, err := m.getOrOpenLocked(userID)
	if err != nil {
		return nil, err
	}
	ms.refs++
	return ms.session, nil
}

// Get 获取用户的 Session，不存在时创建
func (m *SessionManager) Get(userID uint64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, err := m.getOrOpenLocked(userID)
	if err != nil {
		return nil, err
	}
	return ms.session, nil
}

// Release 释放 Acquire 持有的引用，Session 留给空闲回收处理
func (m *SessionManager) Release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[s.UserID]
	if !ok || ms.session != s {
		return
	}
	if ms.refs > 0 {
		ms.refs--
	}
	s.touch()
}

// SignOut 不论引用计数，立即释放用户的 Session
func (m *SessionManager) SignOut(ctx context.Context, userID uint64) {
	m.mu.Lock()
	ms, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if ok {
		ms.session.Close(ctx)
	}
}

// ResyncAll 所有在线 Session 整体重新同步
func (m *SessionManager) ResyncAll(ctx context.Context, reason string) {
	for _, s := range m.snapshot() {
		if err := s.Resync(ctx, reason); err != nil {
			log.WarnContext(ctx, "resync failed", "user_id", s.UserID, "reason", reason, "err", err)
		}
	}
}

// ReapIdle 回收没有长连接且空闲超过 idle 的 Session，返回回收数量
func (m *SessionManager) ReapIdle(ctx context.Context, idle time.Duration) int {
	m.mu.Lock()
	var victims []*Session
	for userID, ms := range m.sessions {
		if ms.session.Closed() || (ms.refs == 0 && ms.session.IdleFor() > idle) {
			victims = append(victims, ms.session)
			delete(m.sessions, userID)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		s.Close(logger.WithTrace(ctx, "reap"))
	}
	return len(victims)
}

// Len 在线 Session 数
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, ms := range m.sessions {
		out = append(out, ms.session)
	}
	return out
}

// Close 释放全部 Session
func (m *SessionManager) Close(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[uint64]*managedSession)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, ms := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close(ctx)
		}(ms.session)
	}
	wg.Wait()
}
