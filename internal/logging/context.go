package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// WithTraceContext adds a trace ID to ctx and returns a logger carrying it.
// The driver uses one per cycle so a cycle's log lines can be grouped.
func WithTraceContext(ctx context.Context, l zerolog.Logger) (context.Context, zerolog.Logger) {
	traceID := GenerateTraceID()
	child := l.With().Str("trace_id", traceID).Logger()
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	return child.WithContext(ctx), child
}

// TraceID returns the trace ID stored in ctx, or ""
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// GinMiddleware logs every request with its status and latency
func GinMiddleware(l zerolog.Logger) gin.HandlerFunc {
	logger := l.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = GenerateTraceID()
		}
		c.Header("X-Trace-ID", traceID)
		c.Set("trace_id", traceID)

		c.Next()

		ev := logger.Info()
		if c.Writer.Status() >= 500 {
			ev = logger.Error()
		}
		ev.Str("trace_id", traceID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status_code", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	}
}
