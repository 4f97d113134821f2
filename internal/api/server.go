package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"social-automation-dashboard/config"
	"social-automation-dashboard/internal/accounts"
	"social-automation-dashboard/internal/activity"
	"social-automation-dashboard/internal/auth"
	"social-automation-dashboard/internal/authz"
	"social-automation-dashboard/internal/botcontrol"
	"social-automation-dashboard/internal/cache"
	"social-automation-dashboard/internal/campaign"
	"social-automation-dashboard/internal/events"
	"social-automation-dashboard/internal/logging"
	"social-automation-dashboard/internal/maintenance"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/settings"
	"social-automation-dashboard/internal/usage"
	"social-automation-dashboard/internal/vault"
)

// RateLimiter provides simple in-memory rate limiting per key. Keys with no
// request inside the window are swept at most once per window.
type RateLimiter struct {
	requests  map[string][]time.Time
	mu        sync.Mutex
	limit     int           // max requests
	window    time.Duration // time window
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-r.window)
	if now.Sub(r.lastSweep) >= r.window {
		r.sweep(windowStart)
		r.lastSweep = now
	}

	recent := inWindow(r.requests[key], windowStart)
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Keys returns how many keys are tracked
func (r *RateLimiter) Keys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *RateLimiter) sweep(windowStart time.Time) {
	for key, times := range r.requests {
		if len(times) == 0 || !times[len(times)-1].After(windowStart) {
			delete(r.requests, key)
		}
	}
}

// inWindow drops the timestamps at or before windowStart. times is sorted.
func inWindow(times []time.Time, windowStart time.Time) []time.Time {
	for i, t := range times {
		if t.After(windowStart) {
			return times[i:]
		}
	}
	return nil
}

// HealthChecker is the storage health check
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsReader provides the license population summary
type StatsReader interface {
	GetLicenseStats(ctx context.Context, now time.Time) (*models.LicenseStats, error)
}

// Deps are the services the API is built on. Cache and Maintenance may be nil.
type Deps struct {
	Store       HealthChecker
	Stats       StatsReader
	Auth        *auth.Service
	Accounts    *accounts.Manager
	Engine      *authz.Engine
	Ledger      *usage.Ledger
	Settings    *settings.Service
	Bots        *botcontrol.Controller
	Activity    *activity.Service
	Campaign    *campaign.Service
	Vault       *vault.Client
	Cache       *cache.CacheService
	Maintenance *maintenance.Scheduler
	Events      *events.EventBus
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.ServerConfig
	deps        Deps
	hub         *UserWSHub
	authLimiter *RateLimiter // login/register attempts per client IP
	startedAt   time.Time
	logger      zerolog.Logger
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(logger))

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	origins := cfg.AllowedOriginList()
	switch {
	case len(origins) == 0:
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
		corsConfig.AllowCredentials = true
	case containsString(origins, "*"):
		// tokens travel in the Authorization header, so no credentials with a wildcard
		corsConfig.AllowAllOrigins = true
	default:
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", logging.TraceHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", logging.TraceHeader}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		config:      cfg,
		deps:        deps,
		hub:         NewUserWSHub(logger),
		authLimiter: NewRateLimiter(20, time.Minute),
		startedAt:   time.Now(),
		logger:      logger.With().Str("component", "APIServer").Logger(),
	}
	if deps.Events != nil {
		s.hub.Attach(deps.Events)
	}
	s.setupRoutes()
	return s
}

// Router exposes the gin engine; used by tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub returns the user WebSocket hub
func (s *Server) Hub() *UserWSHub {
	return s.hub
}

// rateLimitMiddleware limits requests per client IP and route
func (s *Server) rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + " " + c.FullPath()
		if !limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jwt := s.deps.Auth.GetJWTManager()

	// WebSocket accepts the token as a query parameter since browsers cannot
	// set headers on the upgrade request
	s.router.GET("/ws/user", auth.Middleware(jwt), s.handleUserWebSocket)

	authGroup := s.router.Group("/api/auth")
	authGroup.Use(s.rateLimitMiddleware(s.authLimiter))
	auth.NewHandlers(s.deps.Auth).RegisterRoutes(authGroup)

	api := s.router.Group("/api")
	api.Use(auth.Middleware(jwt))
	{
		// License and quota
		api.GET("/license", s.handleGetLicense)
		api.GET("/limits", s.handleGetLimits)
		api.POST("/authorize", s.handleAuthorize)
		api.GET("/usage", s.handleGetUsage)
		api.POST("/usage", s.handleRecordUsage)

		// Activity log
		api.GET("/activity", s.handleListActivity)
		api.POST("/activity", s.handleRecordActivity)
		api.GET("/activity/summary", s.handleActivitySummary)
		api.GET("/activity/export", s.handleExportActivity)

		// Settings
		api.GET("/settings/limits", s.handleGetLimitSettings)
		api.PUT("/settings/limits", s.handleUpdateLimitSettings)
		api.GET("/settings/warmup", s.handleGetWarmup)
		api.PUT("/settings/warmup", s.handleUpdateWarmup)

		// Campaign configuration
		api.GET("/keywords", s.handleListKeywords)
		api.POST("/keywords", s.handleAddKeyword)
		api.DELETE("/keywords/:id", s.handleRemoveKeyword)
		api.GET("/templates", s.handleListTemplates)
		api.POST("/templates", s.handleCreateTemplate)
		api.PUT("/templates/:id", s.handleUpdateTemplate)
		api.DELETE("/templates/:id", s.handleDeleteTemplate)

		// Bot control
		api.GET("/bot/status", s.handleBotStatus)
		api.POST("/bot/start", s.handleBotStart)
		api.POST("/bot/stop", s.handleBotStop)
		api.POST("/bot/pause", s.handleBotPause)
		api.POST("/bot/resume", s.handleBotResume)
		api.POST("/bot/emergency-stop", s.handleBotEmergencyStop)
		api.PUT("/bot/task", s.handleBotTask)
		api.GET("/bot/credentials", s.handleGetCredentials)
		api.PUT("/bot/credentials", s.handlePutCredentials)
		api.DELETE("/bot/credentials", s.handleDeleteCredentials)

		admin := api.Group("/admin")
		admin.Use(auth.RequireAdmin())
		{
			admin.GET("/licenses/:id", s.handleAdminGetLicense)
			admin.POST("/licenses/:id/upgrade", s.handleAdminUpgrade)
			admin.POST("/licenses/:id/extend", s.handleAdminExtend)
			admin.POST("/licenses/:id/deactivate", s.handleAdminDeactivate)
			admin.POST("/licenses/:id/reactivate", s.handleAdminReactivate)
			admin.GET("/stats", s.handleAdminStats)
			admin.POST("/maintenance/daily", s.handleRunDaily)
			admin.POST("/maintenance/weekly", s.handleRunWeekly)
		}
	}
}

// Start runs the WebSocket hub and serves HTTP until Shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  seconds(s.config.ReadTimeout, 15),
		WriteTimeout: seconds(s.config.WriteTimeout, 15),
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run()
	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and closes every socket
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.hub.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// handleHealth reports storage, cache and vault health
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"status":     "healthy",
		"database":   "healthy",
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"ws_clients": s.hub.GetTotalClientCount(),
	}

	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Storage health check failed")
		body["status"] = "unhealthy"
		body["database"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	// Cache and vault are optional; their failure degrades but does not fail health
	if s.deps.Cache != nil {
		body["cache"] = s.deps.Cache.GetStats()
	}
	if s.deps.Vault != nil && s.deps.Vault.IsEnabled() {
		if err := s.deps.Vault.Health(ctx); err != nil {
			body["vault"] = "unhealthy"
			body["status"] = "degraded"
		} else {
			body["vault"] = "healthy"
		}
	}
	if s.deps.Maintenance != nil {
		body["maintenance"] = s.deps.Maintenance.GetStatus()
	}
	c.JSON(http.StatusOK, body)
}
