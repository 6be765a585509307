package job

import (
	"Murmur/internal/pkg/logger"
	"context"
	log "log/slog"
	"time"
)

// StalePresenceCleaner 删除心跳过期的在线记录
type StalePresenceCleaner interface {
	DeleteStalePresence(ctx context.Context, before time.Time) (int64, error)
}

// PresenceSweepJob 清理客户端崩溃或断网后遗留的在线记录
type PresenceSweepJob struct {
	cleaner StalePresenceCleaner
	ttl     time.Duration
	now     func() time.Time
}

func NewPresenceSweepJob(cleaner StalePresenceCleaner, ttl time.Duration) *PresenceSweepJob {
	return &PresenceSweepJob{
		cleaner: cleaner,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *PresenceSweepJob) Run() {
	ctx := logger.WithTrace(context.Background(), "job-presence")

	before := s.now().Add(-s.ttl)
	n, err := s.cleaner.DeleteStalePresence(ctx, before)
	if err != nil {
		log.ErrorContext(ctx, "sweep stale presence error", "before", before, "err", err)
		return
	}
	if n > 0 {
		log.InfoContext(ctx, "stale presence swept", "count", n, "before", before)
	}
}
