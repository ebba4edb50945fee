package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pairchat/internal/observability"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader(observability.HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// userIDFromContext returns the authenticated user id, or 0.
func userIDFromContext(c *gin.Context) int64 {
	if val, ok := c.Get("userID"); ok {
		switch userID := val.(type) {
		case int:
			return int64(userID)
		case int64:
			return userID
		}
	}
	return 0
}
