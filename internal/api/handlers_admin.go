package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social-automation-dashboard/internal/auth"
	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
)

// DeactivatedStopReason is recorded on bots stopped by an admin deactivation
const DeactivatedStopReason = "license deactivated by administrator"

type upgradeRequest struct {
	Tier string `json:"tier" binding:"required"`
	Days int    `json:"days" binding:"min=0"`
}

type extendRequest struct {
	Days int `json:"days" binding:"required,min=1"`
}

func (s *Server) adminLog(c *gin.Context, action, target string) {
	s.logger.Info().
		Str("admin_id", auth.GetUserID(c)).
		Str("user_id", target).
		Str("action", action).
		Msg("Admin license action")
}

func (s *Server) respondLicense(c *gin.Context, lic *models.License, err error) {
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewLicense(lic))
}

func (s *Server) handleAdminGetLicense(c *gin.Context) {
	lic, err := s.deps.Accounts.Get(c.Request.Context(), c.Param("id"))
	s.respondLicense(c, lic, err)
}

// handleAdminUpgrade changes the tier; days > 0 also restarts the term
func (s *Server) handleAdminUpgrade(c *gin.Context) {
	var req upgradeRequest
	if !bindJSON(c, &req, false) {
		return
	}
	tier, ok := license.ParseTier(req.Tier)
	if !ok {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "unknown tier "+req.Tier)
		return
	}
	target := c.Param("id")
	s.adminLog(c, "upgrade", target)
	lic, err := s.deps.Accounts.Upgrade(c.Request.Context(), target, tier, req.Days)
	s.respondLicense(c, lic, err)
}

func (s *Server) handleAdminExtend(c *gin.Context) {
	var req extendRequest
	if !bindJSON(c, &req, false) {
		return
	}
	target := c.Param("id")
	s.adminLog(c, "extend", target)
	lic, err := s.deps.Accounts.Extend(c.Request.Context(), target, req.Days)
	s.respondLicense(c, lic, err)
}

// handleAdminDeactivate switches the license off and halts the bot
func (s *Server) handleAdminDeactivate(c *gin.Context) {
	ctx := c.Request.Context()
	target := c.Param("id")
	s.adminLog(c, "deactivate", target)

	lic, err := s.deps.Accounts.Deactivate(ctx, target)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := s.deps.Bots.EmergencyStop(ctx, target, DeactivatedStopReason); err != nil {
		s.logger.Error().Err(err).Str("user_id", target).Msg("Failed to stop bot of deactivated license")
	}
	c.JSON(http.StatusOK, s.viewLicense(lic))
}

func (s *Server) handleAdminReactivate(c *gin.Context) {
	target := c.Param("id")
	s.adminLog(c, "reactivate", target)
	lic, err := s.deps.Accounts.Reactivate(c.Request.Context(), target)
	s.respondLicense(c, lic, err)
}

// handleAdminStats returns the license population and scheduler status
func (s *Server) handleAdminStats(c *gin.Context) {
	stats, err := s.deps.Stats.GetLicenseStats(c.Request.Context(), s.deps.Engine.Now())
	if err != nil {
		s.respondError(c, err)
		return
	}
	body := gin.H{
		"licenses":   stats,
		"ws_clients": s.hub.GetTotalClientCount(),
		"ws_users":   len(s.hub.GetConnectedUsers()),
	}
	if s.deps.Maintenance != nil {
		body["maintenance"] = s.deps.Maintenance.GetStatus()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) maintenanceAvailable(c *gin.Context) bool {
	if s.deps.Maintenance == nil {
		errorResponse(c, http.StatusServiceUnavailable, "MAINTENANCE_DISABLED", "maintenance scheduler is not configured")
		return false
	}
	return true
}

// handleRunDaily runs the nightly job now. Partial failures still return
// the report alongside the errors.
func (s *Server) handleRunDaily(c *gin.Context) {
	if !s.maintenanceAvailable(c) {
		return
	}
	s.adminLog(c, "maintenance_daily", "")
	report, err := s.deps.Maintenance.RunDaily(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "MAINTENANCE_FAILED",
			"message": err.Error(),
			"report":  report,
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleRunWeekly(c *gin.Context) {
	if !s.maintenanceAvailable(c) {
		return
	}
	s.adminLog(c, "maintenance_weekly", "")
	report, err := s.deps.Maintenance.RunWeekly(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
