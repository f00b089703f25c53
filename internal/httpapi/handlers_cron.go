// README: The cron endpoint group — one GET per sweep, each behind
// middleware.CronAuth rather than the Firebase business auth. CronRunner
// is the subset of cron.Runner this package depends on, kept as an
// interface here so httpapi never imports the cron package directly.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type CronRunner interface {
	CloseBidWindows(ctx context.Context) map[string]int
	DetectNoShows(ctx context.Context) map[string]int
	SendShiftReminders(ctx context.Context) map[string]int
	AutoDropUnconfirmed(ctx context.Context) map[string]int
	RunDailyHealthEvaluation(ctx context.Context) map[string]int
	RunWeeklyHealthEvaluation(ctx context.Context, weekStart string) map[string]int
}

func registerCronRoutes(cronGroup *gin.RouterGroup, h *handler) {
	cronGroup.GET("/close-bid-windows", h.cronCloseBidWindows)
	cronGroup.GET("/detect-no-shows", h.cronDetectNoShows)
	cronGroup.GET("/send-shift-reminders", h.cronSendShiftReminders)
	cronGroup.GET("/auto-drop-unconfirmed", h.cronAutoDropUnconfirmed)
	cronGroup.GET("/run-daily-health-evaluation", h.cronRunDailyHealthEvaluation)
	cronGroup.GET("/run-weekly-health-evaluation", h.cronRunWeeklyHealthEvaluation)
}

func cronResult(c *gin.Context, counts map[string]int) {
	body := gin.H{"success": true}
	for k, v := range counts {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) cronCloseBidWindows(c *gin.Context) {
	cronResult(c, h.deps.Cron.CloseBidWindows(c.Request.Context()))
}

func (h *handler) cronDetectNoShows(c *gin.Context) {
	cronResult(c, h.deps.Cron.DetectNoShows(c.Request.Context()))
}

func (h *handler) cronSendShiftReminders(c *gin.Context) {
	cronResult(c, h.deps.Cron.SendShiftReminders(c.Request.Context()))
}

func (h *handler) cronAutoDropUnconfirmed(c *gin.Context) {
	cronResult(c, h.deps.Cron.AutoDropUnconfirmed(c.Request.Context()))
}

func (h *handler) cronRunDailyHealthEvaluation(c *gin.Context) {
	cronResult(c, h.deps.Cron.RunDailyHealthEvaluation(c.Request.Context()))
}

func (h *handler) cronRunWeeklyHealthEvaluation(c *gin.Context) {
	weekStart := c.Query("weekStart")
	if weekStart == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "weekStart query parameter is required"})
		return
	}
	cronResult(c, h.deps.Cron.RunWeeklyHealthEvaluation(c.Request.Context(), weekStart))
}
