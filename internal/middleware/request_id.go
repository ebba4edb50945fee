package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pairchat/internal/observability"
)

const requestIDKey = "request_id"

// RequestID reuses the caller's X-Request-Id or mints one, echoes it on
// the response and carries it in the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(observability.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(observability.HeaderRequestID, id)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}
