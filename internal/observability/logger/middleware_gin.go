package logger

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/gstflow/gstflow/internal/observability/context"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

var requestIDNode, _ = snowflake.NewNode(1022)

// GinMiddleware assigns a request ID and logs each request on completion.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = requestIDNode.Generate().String()
		}
		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, requestID)

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		log := FromContext(ctx)
		if last := c.Errors.Last(); last != nil {
			log.Warn("http.request", append(fields, zap.Error(last.Err))...)
			return
		}
		log.Info("http.request", fields...)
	}
}
