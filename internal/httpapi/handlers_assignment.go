// README: Assignment lifecycle handlers — confirmShift, cancelAssignment,
// arrive, startShift, completeShift. Shape-only passthroughs onto
// assignment.Service; all state and invariants live there.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orro3790/dispatch/internal/http/middleware"
	"github.com/orro3790/dispatch/internal/types"
)

func registerAssignmentRoutes(api *gin.RouterGroup, h *handler) {
	g := api.Group("/assignments/:assignmentId")
	g.POST("/confirm", h.confirmShift)
	g.POST("/cancel", h.cancelAssignment)
	g.POST("/arrive", h.arrive)
	g.POST("/start", h.startShift)
	g.POST("/complete", h.completeShift)
}

func (h *handler) confirmShift(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	actorID := middleware.CallerUID(c)
	err := h.deps.Assigns.ConfirmShift(c.Request.Context(), types.ID(c.Param("assignmentId")), types.ID(orgID), types.ID(actorID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handler) cancelAssignment(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	actorID := middleware.CallerUID(c)
	err := h.deps.Assigns.CancelAssignment(c.Request.Context(), types.ID(c.Param("assignmentId")), types.ID(orgID), types.ID(actorID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handler) arrive(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	err := h.deps.Assigns.Arrive(c.Request.Context(), types.ID(c.Param("assignmentId")), types.ID(orgID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type startShiftRequest struct {
	ParcelsStart int `json:"parcelsStart" binding:"required"`
}

func (h *handler) startShift(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	var req startShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.deps.Assigns.StartShift(c.Request.Context(), types.ID(c.Param("assignmentId")), types.ID(orgID), req.ParcelsStart)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type completeShiftRequest struct {
	Delivered int     `json:"delivered"`
	Returned  int     `json:"returned"`
	Excepted  int     `json:"excepted"`
	Notes     *string `json:"notes"`
}

func (h *handler) completeShift(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	var req completeShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.deps.Assigns.CompleteShift(c.Request.Context(), types.ID(c.Param("assignmentId")), types.ID(orgID), req.Delivered, req.Returned, req.Excepted, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
