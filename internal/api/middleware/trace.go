package middleware

import (
	"Murmur/internal/pkg/logger"

	"github.com/gin-gonic/gin"
)

const traceHeader = "X-Trace-ID"

// TraceMiddleware 沿用调用方的 trace_id，缺失时生成 http-<uuid>
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		traceID := c.GetHeader(traceHeader)
		if traceID == "" || len(traceID) > 128 {
			ctx = logger.WithTrace(ctx, "http")
			traceID = logger.TraceID(ctx)
		} else {
			ctx = logger.WithTraceID(ctx, traceID)
		}

		c.Set(logger.TraceIDKey, traceID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(traceHeader, traceID)
		c.Next()
	}
}
