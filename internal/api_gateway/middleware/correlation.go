package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// CorrelationIDHeader carries the request trace id. Inbound values are
	// echoed back so clients can stitch retries together; absent ones are
	// minted here.
	CorrelationIDHeader = "X-Correlation-ID"

	// CorrelationIDKey stores the id in the gin context for handlers and
	// the response envelope
	CorrelationIDKey = "correlation_id"
)

// CorrelationID tags every request with a trace id
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(CorrelationIDKey, id)
		c.Header(CorrelationIDHeader, id)

		c.Next()
	}
}

// GetCorrelationID returns the request's correlation id, or "" when the
// middleware did not run
func GetCorrelationID(c *gin.Context) string {
	if v, ok := c.Get(CorrelationIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
