package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carelink-backend/pkg/metrics"
)

// HTTPMetrics records request counts, latency and in-flight requests per
// route template. Requests to skipPaths (the relay upgrade and the scrape
// endpoint) are not measured: a relay connection lives for the whole session.
func HTTPMetrics(m *metrics.Metrics, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok || m == nil {
			c.Next()
			return
		}

		m.IncrementHTTPRequestsInFlight()
		defer m.DecrementHTTPRequestsInFlight()
		start := time.Now()

		c.Next()

		m.RecordHTTPRequest(c.Request.Method, routeLabel(c), c.Writer.Status(), time.Since(start))
	}
}

// routeLabel keeps label cardinality bounded by using the matched route
// template rather than the raw path.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// MetricsHandler serves the metrics registry in Prometheus text format
func MetricsHandler(m *metrics.Metrics) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
}
