// README: Bid window / bid handlers — createBidWindow, placeBid,
// resolveBidWindow, instantAssign, manualAssign, getBidWindowDetail.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orro3790/dispatch/internal/http/middleware"
	"github.com/orro3790/dispatch/internal/modules/bidding"
	"github.com/orro3790/dispatch/internal/types"
)

func registerBiddingRoutes(api *gin.RouterGroup, h *handler) {
	api.POST("/assignments/:assignmentId/bid-windows", h.createBidWindow)
	api.POST("/assignments/:assignmentId/manual-assign", h.manualAssign)
	w := api.Group("/bid-windows/:windowId")
	w.GET("", h.getBidWindowDetail)
	w.POST("/bids", h.placeBid)
	w.POST("/resolve", h.resolveBidWindow)
	w.POST("/instant-assign", h.instantAssign)
}

type createBidWindowRequest struct {
	Trigger        string `json:"trigger"`
	RequestedMode  string `json:"requestedMode"`
	AllowPastShift bool   `json:"allowPastShift"`
}

func (h *handler) createBidWindow(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	var req createBidWindowRequest
	_ = c.ShouldBindJSON(&req)
	actorID := middleware.CallerUID(c)

	windowID, alreadyOpen, err := h.deps.Bids.CreateBidWindow(c.Request.Context(),
		types.ID(c.Param("assignmentId")), types.ID(orgID), types.ID(actorID),
		bidding.Trigger(req.Trigger), bidding.CreateOpts{
			RequestedMode:  bidding.Mode(req.RequestedMode),
			AllowPastShift: req.AllowPastShift,
		})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "windowId": windowID, "alreadyOpen": alreadyOpen})
}

func (h *handler) getBidWindowDetail(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	window, bids, err := h.deps.Bids.GetWindowDetail(c.Request.Context(), types.ID(c.Param("windowId")), types.ID(orgID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"window": window, "pendingBids": bids})
}

func (h *handler) placeBid(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	driverID := middleware.CallerUID(c)
	bidID, err := h.deps.Bids.PlaceBid(c.Request.Context(), types.ID(c.Param("windowId")), types.ID(orgID), types.ID(driverID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "bidId": bidID})
}

func (h *handler) resolveBidWindow(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	actorID := middleware.CallerUID(c)
	outcome, err := h.deps.Bids.ResolveBidWindow(c.Request.Context(), types.ID(c.Param("windowId")), types.ID(orgID), types.ID(actorID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "outcome": outcome})
}

type instantAssignRequest struct {
	AssignmentID string `json:"assignmentId" binding:"required"`
}

func (h *handler) instantAssign(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	var req instantAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	driverID := middleware.CallerUID(c)
	err := h.deps.Bids.InstantAssign(c.Request.Context(),
		types.ID(req.AssignmentID), types.ID(driverID), types.ID(c.Param("windowId")), types.ID(orgID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type manualAssignRequest struct {
	AssignmentID string `json:"assignmentId" binding:"required"`
	DriverID     string `json:"driverId" binding:"required"`
}

func (h *handler) manualAssign(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	var req manualAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	managerID := middleware.CallerUID(c)
	err := h.deps.Bids.ManualAssignDriverToAssignment(c.Request.Context(),
		types.ID(req.AssignmentID), types.ID(req.DriverID), types.ID(managerID), types.ID(orgID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
