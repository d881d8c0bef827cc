package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery converts a handler panic into a 500 envelope response. The stack
// goes to the log only; the client sees a generic message plus the
// correlation id for support lookups.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered",
					"error", r,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)

				body := gin.H{
					"error": gin.H{
						"code":    "INTERNAL_SERVER_ERROR",
						"message": "An internal server error occurred",
					},
				}
				if id := GetCorrelationID(c); id != "" {
					body["correlation_id"] = id
				}

				c.AbortWithStatusJSON(http.StatusInternalServerError, body)
			}
		}()

		c.Next()
	}
}
