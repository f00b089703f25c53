// README: Request logging. Attaches a request-scoped logger (requestId
// always, orgId on org-scoped routes) to the request context so every
// downstream service/store call logs with the same fields.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/orro3790/dispatch/internal/logging"
)

// Logging attaches a request-scoped logger derived from base and emits
// one structured line per request on completion.
func Logging(base logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		log := base.WithValues("requestId", requestID, "orgId", c.Param("orgId"))
		c.Request = c.Request.WithContext(logging.Into(c.Request.Context(), log))

		start := time.Now()
		c.Next()

		log.Info("request completed",
			"method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "durationMs", time.Since(start).Milliseconds())
	}
}
