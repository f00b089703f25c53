// README: Router wiring — one handler file per aggregate plus this
// shared base. Every business
// route is scoped under /orgs/:orgId, path-first tenant scoping so a
// handler can never forget to pass the org id to its service call.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"github.com/orro3790/dispatch/internal/http/middleware"
	"github.com/orro3790/dispatch/internal/infra"
	"github.com/orro3790/dispatch/internal/modules/assignment"
	"github.com/orro3790/dispatch/internal/modules/bidding"
	"github.com/orro3790/dispatch/internal/modules/health"
	"github.com/orro3790/dispatch/internal/modules/schedule"
)

// Deps bundles every service the gin surface dispatches to.
type Deps struct {
	Verifier   infra.TokenVerifier
	CronSecret string
	Assigns    *assignment.Service
	Bids       *bidding.Service
	Schedule   *schedule.Service
	Health     *health.Service
	Flagging   *health.FlaggingService
	Cron       CronRunner
	Log        logr.Logger
}

// NewRouter builds the full gin.Engine: structured logging and panic
// recovery on every route, Firebase auth on the business API, a
// separate shared-secret check on the cron surface.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging(deps.Log))

	h := &handler{deps: deps}

	cronGroup := r.Group("/cron")
	cronGroup.Use(middleware.CronAuth(deps.CronSecret))
	registerCronRoutes(cronGroup, h)

	api := r.Group("/orgs/:orgId")
	api.Use(middleware.Auth(deps.Verifier))
	registerAssignmentRoutes(api, h)
	registerBiddingRoutes(api, h)
	registerScheduleRoutes(api, h)
	registerHealthRoutes(api, h)

	return r
}

type handler struct {
	deps Deps
}

func orgIDParam(c *gin.Context) (string, bool) {
	orgID := c.Param("orgId")
	if orgID == "" {
		c.JSON(400, gin.H{"error": "orgId is required"})
		return "", false
	}
	return orgID, true
}
