// README: Driver health read and reinstatement endpoints. The daily and
// weekly score evaluation, and the attendance-flag evaluation, run off
// the cron surface (handlers_cron.go) rather than here.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orro3790/dispatch/internal/http/middleware"
	"github.com/orro3790/dispatch/internal/types"
)

func registerHealthRoutes(api *gin.RouterGroup, h *handler) {
	g := api.Group("/drivers/:driverId")
	g.GET("/health/score", h.getHealthScore)
	g.POST("/health/reinstate", h.reinstateDriver)
}

func (h *handler) getHealthScore(c *gin.Context) {
	driverID := c.Param("driverId")
	score, err := h.deps.Health.CurrentScore(c.Request.Context(), types.ID(driverID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "score": score})
}

func (h *handler) reinstateDriver(c *gin.Context) {
	driverID := c.Param("driverId")
	managerID := middleware.CallerUID(c)
	if err := h.deps.Health.Reinstate(c.Request.Context(), types.ID(driverID), types.ID(managerID)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
