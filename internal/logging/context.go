package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	traceIDKey contextKey = "trace_id"

	// TraceHeader carries the trace id in and out of HTTP requests
	TraceHeader = "X-Trace-ID"
)

// GenerateTraceID generates a new time-sortable trace ID
func GenerateTraceID() string {
	return ulid.Make().String()
}

// TraceID returns the trace id stored in ctx, if any
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithTraceID stores a trace id in ctx
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// FromContext returns base enriched with the trace id found in ctx. The
// request middleware also attaches the enriched logger via zerolog's
// context support, which takes precedence.
func FromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	if id := TraceID(ctx); id != "" {
		return base.With().Str("trace_id", id).Logger()
	}
	return base
}

// GinMiddleware logs one structured line per request and propagates a trace id
func GinMiddleware(base zerolog.Logger) gin.HandlerFunc {
	httpLogger := Component(base, "http")
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = GenerateTraceID()
		}
		c.Header(TraceHeader, traceID)

		l := httpLogger.With().Str("trace_id", traceID).Logger()
		ctx := WithTraceID(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(l.WithContext(ctx))

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		default:
			ev = l.Info()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Str("client_ip", c.ClientIP()).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	}
}
