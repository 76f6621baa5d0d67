package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger returns a zap-based request logging middleware. Errors attached to
// the context by handlers are logged at error level.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		clientIP := c.ClientIP()
		method := c.Request.Method

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("client_ip", clientIP),
		}
		if v, ok := c.Get(ContextUserID); ok {
			fields = append(fields, zap.Any("user_id", v))
		}
		if len(c.Errors) > 0 && c.Writer.Status() >= 500 {
			logger.Error("request", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		logger.Info("request", fields...)
	}
}
