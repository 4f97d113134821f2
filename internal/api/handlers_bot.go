package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"social-automation-dashboard/internal/auth"
	"social-automation-dashboard/internal/botcontrol"
	"social-automation-dashboard/internal/vault"
)

// respondTransition writes the outcome of a bot control command. Refused
// transitions answer 409 together with the status the bot is actually in.
func (s *Server) respondTransition(c *gin.Context, snap botcontrol.Snapshot, err error) {
	if err == nil {
		c.JSON(http.StatusOK, snap)
		return
	}
	var control *botcontrol.ControlError
	if !errors.As(err, &control) {
		s.respondError(c, err)
		return
	}
	if !control.Soft() {
		// hard refusals carry no snapshot; report the current one
		current, statusErr := s.deps.Bots.GetStatus(c.Request.Context(), auth.GetUserID(c))
		if statusErr != nil {
			s.respondError(c, statusErr)
			return
		}
		snap = current
	}
	c.JSON(http.StatusConflict, gin.H{
		"error":   control.Code,
		"message": control.Message,
		"soft":    control.Soft(),
		"status":  snap,
	})
}

func (s *Server) handleBotStatus(c *gin.Context) {
	snap, err := s.deps.Bots.GetStatus(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleBotStart authorizes and starts the bot with optional start settings
func (s *Server) handleBotStart(c *gin.Context) {
	var settings botcontrol.StartSettings
	if !bindJSON(c, &settings, true) {
		return
	}
	snap, err := s.deps.Bots.Start(c.Request.Context(), auth.GetUserID(c), settings)
	s.respondTransition(c, snap, err)
}

type stopRequest struct {
	ErrorMessage string `json:"error_message"`
}

func (s *Server) handleBotStop(c *gin.Context) {
	var req stopRequest
	if !bindJSON(c, &req, true) {
		return
	}
	snap, err := s.deps.Bots.Stop(c.Request.Context(), auth.GetUserID(c), req.ErrorMessage)
	s.respondTransition(c, snap, err)
}

func (s *Server) handleBotPause(c *gin.Context) {
	snap, err := s.deps.Bots.Pause(c.Request.Context(), auth.GetUserID(c))
	s.respondTransition(c, snap, err)
}

func (s *Server) handleBotResume(c *gin.Context) {
	snap, err := s.deps.Bots.Resume(c.Request.Context(), auth.GetUserID(c))
	s.respondTransition(c, snap, err)
}

type emergencyRequest struct {
	Reason string `json:"reason"`
}

// handleBotEmergencyStop always forces the bot to stopped
func (s *Server) handleBotEmergencyStop(c *gin.Context) {
	var req emergencyRequest
	if !bindJSON(c, &req, true) {
		return
	}
	if req.Reason == "" {
		req.Reason = "emergency stop requested by user"
	}
	snap, err := s.deps.Bots.EmergencyStop(c.Request.Context(), auth.GetUserID(c), req.Reason)
	s.respondTransition(c, snap, err)
}

type taskRequest struct {
	Task string `json:"task" binding:"required,max=200"`
}

// handleBotTask is the bot's heartbeat with its current task
func (s *Server) handleBotTask(c *gin.Context) {
	var req taskRequest
	if !bindJSON(c, &req, false) {
		return
	}
	snap, err := s.deps.Bots.UpdateTask(c.Request.Context(), auth.GetUserID(c), req.Task)
	s.respondTransition(c, snap, err)
}

// ==================== CREDENTIALS ====================

type credentialsRequest struct {
	AccountEmail  string `json:"account_email" binding:"required,email"`
	SessionCookie string `json:"session_cookie" binding:"required"`
	UserAgent     string `json:"user_agent"`
}

// credentialsView never includes the session cookie itself
type credentialsView struct {
	AccountEmail string    `json:"account_email"`
	HasSession   bool      `json:"has_session"`
	UserAgent    string    `json:"user_agent,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func viewCredentials(creds *vault.BotCredentials) credentialsView {
	return credentialsView{
		AccountEmail: creds.AccountEmail,
		HasSession:   creds.SessionCookie != "",
		UserAgent:    creds.UserAgent,
		UpdatedAt:    creds.UpdatedAt,
	}
}

func (s *Server) handleGetCredentials(c *gin.Context) {
	creds, err := s.deps.Vault.GetCredentials(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewCredentials(creds))
}

// handlePutCredentials stores the social account session the bot acts with
func (s *Server) handlePutCredentials(c *gin.Context) {
	var req credentialsRequest
	if !bindJSON(c, &req, false) {
		return
	}
	creds := vault.BotCredentials{
		AccountEmail:  strings.ToLower(strings.TrimSpace(req.AccountEmail)),
		SessionCookie: req.SessionCookie,
		UserAgent:     req.UserAgent,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.deps.Vault.PutCredentials(c.Request.Context(), auth.GetUserID(c), creds); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewCredentials(&creds))
}

func (s *Server) handleDeleteCredentials(c *gin.Context) {
	if err := s.deps.Vault.DeleteCredentials(c.Request.Context(), auth.GetUserID(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
