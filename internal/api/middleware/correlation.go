package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// CorrelationIDHeader carries the request correlation ID across services.
	CorrelationIDHeader = "X-Correlation-ID"

	// CorrelationIDKey stores the correlation ID in the gin context.
	CorrelationIDKey = "correlation_id"
)

// CorrelationID tags every request with a correlation ID, minting one when the
// caller did not supply it. The ID is echoed back in the response headers so
// clients can quote it when reporting a failed posting.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Header(CorrelationIDHeader, id)
		c.Set(CorrelationIDKey, id)

		c.Next()
	}
}

// GetCorrelationID returns the request's correlation ID, or "" when the
// middleware did not run.
func GetCorrelationID(c *gin.Context) string {
	if v, ok := c.Get(CorrelationIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
