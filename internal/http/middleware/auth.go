// README: Firebase ID token auth. Verifies the caller at the thin HTTP
// boundary and stashes uid/role on the gin context; the core's
// authorization (manager warehouse access, driver-owns-assignment) is a
// separate, org-scoped check each handler performs against the store.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orro3790/dispatch/internal/infra"
)

const (
	ctxKeyUID  = "auth.uid"
	ctxKeyRole = "auth.role"
)

// Auth verifies the bearer Firebase ID token on every request and aborts
// with 401 on any missing/malformed header or verification failure.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) || len(header) <= len(prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed Authorization header"})
			return
		}
		token := strings.TrimPrefix(header, prefix)

		parsed, err := verifier.VerifyIDToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		role, _ := parsed.Claims["role"].(string)
		c.Set(ctxKeyUID, parsed.UID)
		c.Set(ctxKeyRole, role)
		c.Next()
	}
}

// CallerUID returns the verified caller's Firebase UID, empty if Auth
// did not run or did not set one.
func CallerUID(c *gin.Context) string {
	uid, _ := c.Get(ctxKeyUID)
	s, _ := uid.(string)
	return s
}

// CallerRole returns the verified caller's role claim, empty if absent.
func CallerRole(c *gin.Context) string {
	role, _ := c.Get(ctxKeyRole)
	s, _ := role.(string)
	return s
}
