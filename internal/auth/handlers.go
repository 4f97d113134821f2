package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// authErrorStatus maps auth error codes to HTTP statuses; unknown codes are 400
var authErrorStatus = map[string]int{
	ErrEmailExists.Code:        http.StatusConflict,
	ErrInvalidCredentials.Code: http.StatusUnauthorized,
	ErrInvalidToken.Code:       http.StatusUnauthorized,
	ErrTokenExpired.Code:       http.StatusUnauthorized,
	ErrUnauthorized.Code:       http.StatusUnauthorized,
	ErrForbidden.Code:          http.StatusForbidden,
	ErrUserNotFound.Code:       http.StatusNotFound,
}

// Handlers serves the account endpoints under /api/auth
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// fail writes err as the standard error envelope. Anything that is not an
// AuthError is logged and hidden behind a 500.
func (h *Handlers) fail(c *gin.Context, err error, action string) {
	var authErr AuthError
	if errors.As(err, &authErr) {
		status, ok := authErrorStatus[authErr.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": authErr.Code, "message": authErr.Message})
		return
	}
	h.service.logger.Error().Err(err).Str("action", action).Msg("Auth request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "failed to " + action})
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": err.Error()})
		return false
	}
	return true
}

// Register creates the account and its trial license.
// POST /api/auth/register
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, "register user")
		return
	}

	// The trial license is reported with the profile so the dashboard can
	// show the remaining trial without a second call
	profile, err := h.service.Me(c.Request.Context(), user.ID)
	if err != nil {
		h.fail(c, err, "load profile")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": profile})
}

// POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.service.Login(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		h.fail(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/auth/me
func (h *Handlers) GetMe(c *gin.Context) {
	profile, err := h.service.Me(c.Request.Context(), GetUserID(c))
	if err != nil {
		h.fail(c, err, "load profile")
		return
	}
	c.JSON(http.StatusOK, profile)
}

// RegisterRoutes mounts the public endpoints and /me behind the token check
func (h *Handlers) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/register", h.Register)
	router.POST("/login", h.Login)
	router.GET("/me", Middleware(h.service.jwt), h.GetMe)
}
