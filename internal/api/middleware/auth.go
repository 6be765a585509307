package middleware

import (
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/redis"
	"Murmur/internal/pkg/response"
	"Murmur/internal/pkg/security"
	"context"
	"errors"
	log "log/slog"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	ErrTokenMissing = errors.New("Token 缺失或格式错误")
	ErrTokenInvalid = errors.New("Token 无效或已过期")
)

// isRevoked 查询 Token 签名是否在注销黑名单中
var isRevoked = redis.IsTokenRevoked

// Authenticate 校验 Token，返回声明与签名。HTTP 与 WebSocket 握手共用
func Authenticate(ctx context.Context, token string) (*security.UserClaims, string, error) {
	signature, err := security.ExtractSignature(token)
	if err != nil {
		return nil, "", ErrTokenMissing
	}

	revoked, err := isRevoked(ctx, signature)
	if err != nil {
		return nil, "", err
	}
	if revoked {
		return nil, "", ErrTokenInvalid
	}

	claims, err := security.ValidateToken(token)
	if err != nil {
		return nil, "", ErrTokenInvalid
	}
	return claims, signature, nil
}

// AuthMiddleware 负责验证 JWT 并将用户身份信息注入 Context
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			response.Fail(c, response.Unauthorized, ErrTokenMissing.Error())
			c.Abort()
			return
		}

		claims, signature, err := Authenticate(c.Request.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			if errors.Is(err, ErrTokenMissing) || errors.Is(err, ErrTokenInvalid) {
				response.Fail(c, response.Unauthorized, err.Error())
			} else {
				log.ErrorContext(c.Request.Context(), "token blacklist lookup failed", "err", err)
				response.Fail(c, response.InternalServerError, "未知错误")
			}
			c.Abort()
			return
		}

		c.Set(consts.UserIDKey, claims.UserID)
		c.Set(consts.TokenClaimsKey, claims)
		c.Set(consts.TokenSignatureKey, signature)

		newCtx := context.WithValue(c.Request.Context(), consts.UserIDKey, claims.UserID)
		c.Request = c.Request.WithContext(newCtx)

		c.Next()
	}
}
