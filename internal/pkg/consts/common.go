package consts

const (
	// UserIDKey gin.Context 与 context.Context 中的用户 ID
	UserIDKey = "user_id"
	// TokenClaimsKey gin.Context 中解析后的 Token 声明
	TokenClaimsKey = "token_claims"
	// TokenSignatureKey gin.Context 中 Token 的签名，注销时写入黑名单
	TokenSignatureKey = "token_signature"
)

const (
	PresenceSweepJobName = "presence-sweep"
	SessionReapJobName   = "session-reap"
)
