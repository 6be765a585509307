package redis

import (
	"Murmur/internal/pkg/consts"
	"context"
	"time"
)

// RevokeToken 把 Token 签名写入黑名单，过期时间与 Token 剩余有效期一致
func RevokeToken(ctx context.Context, signature string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return SetWithExpiration(ctx, consts.TokenBlacklistKey+signature, "1", ttl)
}

// IsTokenRevoked Token 签名是否已注销
func IsTokenRevoked(ctx context.Context, signature string) (bool, error) {
	value, err := GetValue(ctx, consts.TokenBlacklistKey+signature)
	if err != nil {
		return false, err
	}
	return value != "", nil
}
