// README: Error-kind mapping. Each module keeps its own sentinel error
// set; this is the one place that knows how every kind renders as a
// status code and a client-facing reason.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/modules/assignment"
	"github.com/orro3790/dispatch/internal/modules/bidding"
	"github.com/orro3790/dispatch/internal/modules/driver"
	"github.com/orro3790/dispatch/internal/modules/health"
	"github.com/orro3790/dispatch/internal/modules/org"
)

// writeError maps err to a status code and reason and writes the JSON
// response. A TransientStore error is reported as
// retryable rather than a bare 500; the caller may retry once.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, assignment.ErrNotFound), errors.Is(err, bidding.ErrNotFound),
		errors.Is(err, driver.ErrNotFound), errors.Is(err, org.ErrNotFound), errors.Is(err, health.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "reason": "not_found"})

	case errors.Is(err, assignment.ErrStateChanged):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": "state_changed"})

	case errors.Is(err, bidding.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "reason": "forbidden"})

	case errors.Is(err, bidding.ErrWindowNotOpen), errors.Is(err, bidding.ErrAlreadyExists),
		errors.Is(err, bidding.ErrAlreadyAssigned), errors.Is(err, bidding.ErrDuplicateDateBid),
		errors.Is(err, bidding.ErrPastShift):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": "state_changed"})

	case errors.Is(err, bidding.ErrUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": "unavailable"})

	case dbutil.IsUniqueViolation(err, ""):
		c.JSON(http.StatusConflict, gin.H{"error": "conflicting change, please retry", "reason": "unique_violation"})

	case dbutil.IsTransient(err):
		c.JSON(http.StatusConflict, gin.H{"error": "temporarily unavailable, please retry", "reason": "transient"})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
