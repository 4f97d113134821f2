package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social-automation-dashboard/internal/auth"
	"social-automation-dashboard/internal/authz"
	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
)

// licenseView is the license as shown on the dashboard
type licenseView struct {
	*models.License
	Usable        bool                 `json:"usable"`
	Expired       bool                 `json:"expired"`
	DaysRemaining int                  `json:"days_remaining"`
	Entitlements  license.Entitlements `json:"entitlements"`
	Features      []license.Feature    `json:"features"`
}

func (s *Server) viewLicense(lic *models.License) licenseView {
	now := s.deps.Engine.Now()
	ent := license.LimitsFor(lic.Tier)
	return licenseView{
		License:       lic,
		Usable:        lic.IsUsable(now),
		Expired:       lic.IsExpired(now),
		DaysRemaining: lic.DaysRemaining(now),
		Entitlements:  ent,
		Features:      ent.Features(),
	}
}

// handleGetLicense returns the caller's license with its derived state
func (s *Server) handleGetLicense(c *gin.Context) {
	lic, err := s.deps.Accounts.Get(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewLicense(lic))
}

// handleGetLimits returns the caps currently enforced and what is left
func (s *Server) handleGetLimits(c *gin.Context) {
	limits, err := s.deps.Engine.GetEffectiveLimits(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, limits)
}

type actionRequest struct {
	Action string `json:"action" binding:"required"`
}

func parseAction(c *gin.Context) (authz.Action, bool) {
	var req actionRequest
	if !bindJSON(c, &req, false) {
		return "", false
	}
	action, ok := authz.ParseAction(req.Action)
	if !ok {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "unknown action "+req.Action)
		return "", false
	}
	return action, true
}

// handleAuthorize asks the engine whether an action may run now. It does
// not consume quota.
func (s *Server) handleAuthorize(c *gin.Context) {
	action, ok := parseAction(c)
	if !ok {
		return
	}
	decision, err := s.deps.Engine.Authorize(c.Request.Context(), auth.GetUserID(c), action)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !decision.Allowed {
		deniedResponse(c, decision)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// handleGetUsage returns the caller's usage counters
func (s *Server) handleGetUsage(c *gin.Context) {
	counters, err := s.deps.Ledger.Usage(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counters)
}

// handleRecordUsage authorizes a quota action and charges it in one call.
// Used by bots that do not report full activity events.
func (s *Server) handleRecordUsage(c *gin.Context) {
	action, ok := parseAction(c)
	if !ok {
		return
	}
	if _, quota := action.Counter(); !quota {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", string(action)+" does not consume quota")
		return
	}

	ctx := c.Request.Context()
	userID := auth.GetUserID(c)
	decision, err := s.deps.Engine.Authorize(ctx, userID, action)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !decision.Allowed {
		deniedResponse(c, decision)
		return
	}
	if err := s.deps.Engine.RecordUsage(ctx, userID, action); err != nil {
		s.respondError(c, err)
		return
	}
	counters, err := s.deps.Ledger.Usage(ctx, userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counters)
}
