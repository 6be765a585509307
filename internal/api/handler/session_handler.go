package handler

import (
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/response"
	"Murmur/internal/pkg/security"
	"Murmur/internal/service"
	"context"
	log "log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// TokenRevoker 注销 Token，剩余有效期内不再放行
type TokenRevoker func(ctx context.Context, signature string, ttl time.Duration) error

type SessionHandler struct {
	sessions *service.SessionManager
	revoke   TokenRevoker
}

func NewSessionHandler(sessions *service.SessionManager, revoke TokenRevoker) *SessionHandler {
	return &SessionHandler{sessions: sessions, revoke: revoke}
}

// Logout 注销 Token 并释放用户的同步会话
func (s *SessionHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetUint64(consts.UserIDKey)

	if claims, ok := c.Get(consts.TokenClaimsKey); ok {
		if uc, ok := claims.(*security.UserClaims); ok {
			signature := c.GetString(consts.TokenSignatureKey)
			if err := s.revoke(ctx, signature, security.RemainingTTL(uc)); err != nil {
				log.ErrorContext(ctx, "revoke token failed", "user_id", userID, "err", err)
				response.Error(c, err)
				return
			}
		}
	}

	s.sessions.SignOut(ctx, userID)
	response.Success(c, nil)
}
