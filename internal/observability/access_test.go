package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/devsession/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

func requestCount(t *testing.T, node, route, status string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "devsession_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["node"] == node && labels["path"] == route && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestAdminAccessLabelsByRouteTemplate(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AdminAccess("access-test", log.Logger))
	r.GET("/sessions", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/private", func(c *gin.Context) { c.Status(http.StatusUnauthorized) })

	for _, target := range []string{"/sessions?role=acceptor", "/sessions", "/scan/1", "/scan/2", "/private"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	if got := requestCount(t, "access-test", "/sessions", "200"); got != 2 {
		t.Fatalf("expected 2 /sessions requests, got %v", got)
	}
	if got := requestCount(t, "access-test", UnmatchedRoute, "404"); got != 2 {
		t.Fatalf("expected unmatched paths folded into one label, got %v", got)
	}
	if got := requestCount(t, "access-test", "/scan/1", "404"); got != 0 {
		t.Fatalf("raw path leaked into labels")
	}
	if got := requestCount(t, "access-test", "/private", "401"); got != 1 {
		t.Fatalf("expected one rejected request, got %v", got)
	}
}
