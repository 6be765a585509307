package security

import (
	"Murmur/internal/api/config"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func jwtConfig() config.JWTConfig {
	if config.Cfg == nil {
		return config.Default().JWT
	}
	return config.Cfg.JWT
}

// GenerateToken 生成一个新的 JWT Token。正式环境由账号服务签发，这里用于联调与测试
func GenerateToken(userID uint64) (string, error) {
	cfg := jwtConfig()
	now := time.Now()

	claims := &UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("签名 Token 失败: %w", err)
	}

	return tokenString, nil
}

// ValidateToken 验证 Token 字符串并解析出 Claims
func ValidateToken(tokenString string) (*UserClaims, error) {
	cfg := jwtConfig()
	claims := &UserClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名方法: %v", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer))

	if err != nil {
		return nil, fmt.Errorf("token 解析失败: %w", err)
	}

	if !token.Valid || claims.UserID == 0 {
		return nil, errors.New("token 无效或已过期")
	}

	return claims, nil
}

// ExtractSignature 从 Token 字符串中提取签名
func ExtractSignature(tokenString string) (string, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 || parts[2] == "" {
		return "", errors.New("token 格式不正确")
	}
	return parts[2], nil
}

// RemainingTTL Token 剩余有效期，用于设置黑名单的过期时间
func RemainingTTL(claims *UserClaims) time.Duration {
	if claims.ExpiresAt == nil {
		return jwtConfig().TTL
	}
	if d := time.Until(claims.ExpiresAt.Time); d > 0 {
		return d
	}
	return 0
}
