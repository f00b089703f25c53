// README: Weekly schedule generation — a single manager-triggered
// endpoint wrapping schedule.Service.GenerateWeekSchedule.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orro3790/dispatch/internal/types"
)

func registerScheduleRoutes(api *gin.RouterGroup, h *handler) {
	api.POST("/schedule/generate", h.generateWeekSchedule)
}

type generateWeekScheduleRequest struct {
	WeekMonday string `json:"weekMonday" binding:"required"`
}

func (h *handler) generateWeekSchedule(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	var req generateWeekScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.deps.Schedule.GenerateWeekSchedule(c.Request.Context(), types.ID(orgID), req.WeekMonday)
	if err != nil {
		writeError(c, err)
		return
	}
	errs := make([]gin.H, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, gin.H{"routeId": e.RouteID, "date": e.Date, "error": e.Err.Error()})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"created":  result.Created,
		"skipped":  result.Skipped,
		"unfilled": result.Unfilled,
		"errors":   errs,
	})
}
