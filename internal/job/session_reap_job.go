package job

import (
	"Murmur/internal/pkg/logger"
	"context"
	log "log/slog"
	"time"
)

type IdleSessionReaper interface {
	ReapIdle(ctx context.Context, idle time.Duration) int
}

// SessionReapJob 回收没有长连接且长时间空闲的用户会话
type SessionReapJob struct {
	reaper IdleSessionReaper
	idle   time.Duration
}

func NewSessionReapJob(reaper IdleSessionReaper, idle time.Duration) *SessionReapJob {
	return &SessionReapJob{
		reaper: reaper,
		idle:   idle,
	}
}

func (s *SessionReapJob) Run() {
	ctx := logger.WithTrace(context.Background(), "job-reap")
	if n := s.reaper.ReapIdle(ctx, s.idle); n > 0 {
		log.InfoContext(ctx, "idle sessions reaped", "count", n)
	}
}
