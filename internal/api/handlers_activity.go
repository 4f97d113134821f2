package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"social-automation-dashboard/internal/activity"
	"social-automation-dashboard/internal/auth"
	"social-automation-dashboard/internal/authz"
)

const (
	defaultActivityLimit = 50
	maxActivityPage      = 200
	summaryDays          = 7
	exportDays           = 30

	exportTruncatedHeader = "X-Export-Truncated"
	exportLimitHeader     = "X-Export-Limit"
)

// parseWindow reads optional RFC 3339 from/to query parameters
func (s *Server) parseWindow(c *gin.Context, days int) (time.Time, time.Time, bool) {
	var from, to *time.Time
	for name, dest := range map[string]**time.Time{"from": &from, "to": &to} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", name+" must be an RFC 3339 timestamp")
			return time.Time{}, time.Time{}, false
		}
		*dest = &t
	}
	start, end := s.deps.Activity.Window(from, to, days)
	if !start.Before(end) {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "from must be before to")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// handleListActivity returns the most recent events of the caller
func (s *Server) handleListActivity(c *gin.Context) {
	limit := defaultActivityLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxActivityPage {
		limit = maxActivityPage
	}
	from, to, ok := s.parseWindow(c, summaryDays)
	if !ok {
		return
	}

	events, err := s.deps.Activity.List(c.Request.Context(), auth.GetUserID(c), from, to, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// handleRecordActivity stores an event reported by the bot. A successful
// quota action is charged to the ledger.
func (s *Server) handleRecordActivity(c *gin.Context) {
	var report activity.Report
	if !bindJSON(c, &report, false) {
		return
	}
	event, err := s.deps.Activity.Record(c.Request.Context(), auth.GetUserID(c), report)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

// handleActivitySummary returns per-kind counts, by default over the last week
func (s *Server) handleActivitySummary(c *gin.Context) {
	from, to, ok := s.parseWindow(c, summaryDays)
	if !ok {
		return
	}
	summary, err := s.deps.Activity.Summary(c.Request.Context(), auth.GetUserID(c), from, to)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleExportActivity streams the activity log as CSV (or JSON with
// format=json). Only tiers with the export feature may use it.
func (s *Server) handleExportActivity(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.GetUserID(c)

	decision, err := s.deps.Engine.Authorize(ctx, userID, authz.ActionExport)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !decision.Allowed {
		deniedResponse(c, decision)
		return
	}

	from, to, ok := s.parseWindow(c, exportDays)
	if !ok {
		return
	}
	events, truncated, err := s.deps.Activity.Export(ctx, userID, from, to)
	if err != nil {
		s.respondError(c, err)
		return
	}
	// a truncated export holds the newest events; narrow the window for the rest
	c.Header(exportTruncatedHeader, strconv.FormatBool(truncated))
	c.Header(exportLimitHeader, strconv.Itoa(activity.MaxListLimit))

	if c.Query("format") == "json" {
		c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "events": events, "truncated": truncated})
		return
	}

	filename := fmt.Sprintf("activity-%s-%s.csv", from.UTC().Format("20060102"), to.UTC().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"id", "created_at", "kind", "success", "target", "context"})
	for _, e := range events {
		_ = w.Write([]string{
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339),
			string(e.Kind),
			strconv.FormatBool(e.Success),
			e.Target,
			e.Context,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Activity export interrupted")
	}
}
