package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UnmatchedRoute labels requests that hit no registered admin route, so
// scanners cannot grow the metric label set.
const UnmatchedRoute = "unmatched"

// AdminAccess logs and counts every admin request for node. Requests are
// labelled by route template rather than raw path. Session views filtered
// by ?role= carry the filter in the log line.
func AdminAccess(node string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = UnmatchedRoute
		}
		took := time.Since(start)
		RecordHTTPRequest(node, c.Request.Method, route, status, took)

		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status == http.StatusUnauthorized:
			event = logger.Warn()
		default:
			event = logger.Debug()
		}
		if role := strings.TrimSpace(c.Query("role")); role != "" {
			event = event.Str("role_filter", role)
		}
		if route == UnmatchedRoute {
			event = event.Str("raw_path", c.Request.URL.Path)
		}
		event.
			Str("node", node).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", took).
			Str("remote", c.ClientIP()).
			Msg("admin.request")
	}
}
