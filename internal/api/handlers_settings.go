package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social-automation-dashboard/internal/auth"
	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/settings"
)

const (
	sectionLimits = "limits"
	sectionWarmup = "warmup"
)

// handleGetLimitSettings returns the stored daily limits, materializing the
// tier defaults on first access
func (s *Server) handleGetLimitSettings(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.GetUserID(c)

	limits, err := s.deps.Settings.GetOrCreateLimits(ctx, userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	lic, err := s.deps.Accounts.Get(ctx, userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"limits":   limits.Record,
		"created":  limits.Created,
		"ceilings": license.LimitsFor(lic.Tier),
	})
}

// handleUpdateLimitSettings applies a partial update; values above the tier
// ceiling are clamped
func (s *Server) handleUpdateLimitSettings(c *gin.Context) {
	var req settings.LimitsUpdate
	if !bindJSON(c, &req, false) {
		return
	}
	userID := auth.GetUserID(c)
	dl, err := s.deps.Settings.UpdateLimits(c.Request.Context(), userID, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.publishSettings(userID, sectionLimits)
	c.JSON(http.StatusOK, dl)
}

// handleGetWarmup returns the warm-up state with the derived phase and caps
func (s *Server) handleGetWarmup(c *gin.Context) {
	view, err := s.deps.Settings.WarmupStatus(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleUpdateWarmup applies a partial warm-up update
func (s *Server) handleUpdateWarmup(c *gin.Context) {
	var req settings.WarmupUpdate
	if !bindJSON(c, &req, false) {
		return
	}
	ctx := c.Request.Context()
	userID := auth.GetUserID(c)
	if _, err := s.deps.Settings.UpdateWarmup(ctx, userID, req); err != nil {
		s.respondError(c, err)
		return
	}
	s.publishSettings(userID, sectionWarmup)

	view, err := s.deps.Settings.WarmupStatus(ctx, userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) publishSettings(userID, section string) {
	if s.deps.Events != nil {
		s.deps.Events.PublishSettingsUpdated(userID, section)
	}
}
