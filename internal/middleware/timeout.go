package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/metrics"
	"carelink-backend/pkg/response"
)

// RequestTimeout bounds the request context of every handler after it.
// If the deadline passes before the handler writes anything, the client
// gets a 504. Not for the relay route, whose context lives as long as the socket.
func RequestTimeout(timeout time.Duration, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()

		c.Next()

		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}

		m.RecordHTTPTimeout(c.Request.Method, routeLabel(c))
		logger.Warn("Request timed out",
			zap.Duration("timeout", timeout),
			zap.Duration("duration", time.Since(start)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()))

		if !c.Writer.Written() {
			response.GatewayTimeout(c, "Request timeout")
			c.Abort()
		}
	}
}
