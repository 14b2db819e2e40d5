package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// isStream reports whether r asks for a websocket upgrade. Such requests hold
// the handler for the whole connection.
func isStream(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}

// RequestLogger logs one line per admin request. Hits on /health, /ready
// and /metrics log at debug so pollers do not flood the console.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := routePath(c)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case path == "/health" || path == "/ready" || path == "/metrics":
			event = logger.Debug()
		default:
			event = logger.Info()
		}

		msg := "admin_request"
		if isStream(c.Request) {
			msg = "admin_stream_closed"
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg(msg)
	}
}

// RequestMetricsMiddleware records admin traffic under service. Websocket
// streams go to their own lifetime histogram.
func RequestMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		stream := isStream(c.Request)
		c.Next()

		path := routePath(c)
		if stream {
			RecordStream(service, path, c.Writer.Status(), time.Since(start))
			return
		}
		RecordHTTPRequest(service, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
