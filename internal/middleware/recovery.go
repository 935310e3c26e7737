package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/response"
)

// Recovery converts a handler panic into a 500 envelope and logs the stack
// under the request's id. http.ErrAbortHandler is re-raised so net/http can
// drop the connection quietly.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			logger.FromContext(c.Request.Context()).Error("Panic recovered",
				zap.Any("panic", rec),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.ByteString("stack", debug.Stack()))

			if !c.Writer.Written() {
				response.InternalError(c, "Internal server error")
			}
			c.Abort()
		}()
		c.Next()
	}
}
