package util

import (
	"context"
	log "log/slog"
	"time"
)

const maxRetryDelay = 5 * time.Second

// RetryPolicy 重试次数与首次退避时长
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// Retry 执行 fn，失败后按指数退避重试，返回最后一次的错误
func Retry(ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := policy.BaseDelay

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		log.WarnContext(ctx, "operation failed, retrying", "op", op, "attempt", i+1, "retry_in", backoff, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRetryDelay {
			backoff = maxRetryDelay
		}
	}
	return err
}
