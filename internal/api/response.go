package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"social-automation-dashboard/internal/accounts"
	"social-automation-dashboard/internal/activity"
	"social-automation-dashboard/internal/auth"
	"social-automation-dashboard/internal/authz"
	"social-automation-dashboard/internal/botcontrol"
	"social-automation-dashboard/internal/campaign"
	"social-automation-dashboard/internal/logging"
	"social-automation-dashboard/internal/settings"
	"social-automation-dashboard/internal/usage"
	"social-automation-dashboard/internal/vault"
)

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, gin.H{
		"error":   code,
		"message": message,
	})
}

// deniedResponse reports an authorization denial
func deniedResponse(c *gin.Context, d authz.Decision) {
	errorResponse(c, http.StatusForbidden, string(d.Reason), d.Message)
}

// respondError maps a service error to its HTTP form. Unknown errors are
// logged and hidden behind a 500.
func (s *Server) respondError(c *gin.Context, err error) {
	var (
		denied     *botcontrol.DeniedError
		control    *botcontrol.ControlError
		validation *settings.ValidationError
		limit      *campaign.LimitError
	)
	switch {
	case errors.As(err, &denied):
		deniedResponse(c, denied.Decision)
	case errors.As(err, &control):
		errorResponse(c, http.StatusConflict, control.Code, control.Message)
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_FAILED",
			"message": validation.Error(),
			"fields":  validation.Fields,
		})
	case errors.As(err, &limit):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   limit.Code,
			"message": limit.Error(),
			"limit":   limit.Limit,
		})
	case errors.Is(err, authz.ErrNoLicense),
		errors.Is(err, settings.ErrNoLicense),
		errors.Is(err, campaign.ErrNoLicense),
		errors.Is(err, usage.ErrNoLicense):
		errorResponse(c, http.StatusForbidden, string(authz.ReasonLicenseInactive), "no license found for this account")
	case errors.Is(err, campaign.ErrDuplicateKeyword):
		errorResponse(c, http.StatusConflict, "DUPLICATE_KEYWORD", err.Error())
	case errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, accounts.ErrLicenseNotFound),
		errors.Is(err, vault.ErrNotFound):
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, authz.ErrUnknownAction),
		errors.Is(err, activity.ErrInvalidKind),
		errors.Is(err, accounts.ErrInvalidTier),
		errors.Is(err, accounts.ErrInvalidDays):
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		logger := logging.FromContext(c.Request.Context(), s.logger)
		logger.Error().Err(err).Str("path", c.FullPath()).Str("user_id", auth.GetUserID(c)).Msg("Request failed")
		errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// bindJSON decodes the body; an empty body is allowed when optional is set
func bindJSON(c *gin.Context, dest interface{}, optional bool) bool {
	if optional && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dest); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return false
	}
	return true
}
