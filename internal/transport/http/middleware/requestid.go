package middleware

import (
	"github.com/ErlanBelekov/pg-executor/internal/logctx"
	"github.com/gin-gonic/gin"
)

// RequestID tags the request with an ops request id ("req_" prefixed) on the
// context and the response header, and exposes it to handlers via the gin
// context. An incoming X-Request-ID is preserved so callers can correlate
// across services.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = logctx.NewRequestID()
		}

		c.Request = c.Request.WithContext(logctx.WithRequestID(c.Request.Context(), id))
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}
