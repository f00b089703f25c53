// README: Panic recovery. A panicking handler logs via the
// request-scoped logger and returns 500 rather than crashing the worker.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orro3790/dispatch/internal/logging"
)

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logging.From(c.Request.Context()).Error(nil, "panic recovered", "panic", r, "path", c.FullPath())
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
