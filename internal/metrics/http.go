package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// otherDomain labels requests whose :domain parameter is not a registered domain.
const otherDomain = "other"

// httpMetrics holds HTTP-specific metric instruments.
type httpMetrics struct {
	requestCounter metric.Int64Counter
	durationHisto  metric.Float64Histogram
	domains        map[string]struct{}
}

// HTTPMetricsMiddleware returns a Gin middleware that records local API request metrics
// with method, path, status_code and sync_domain labels. Paths are route patterns
// (e.g., /v1/records/:domain) and sync_domain is limited to the registered domains, so
// neither label grows with user input.
func HTTPMetricsMiddleware(meterProvider metric.MeterProvider, namespace string, domains []string) gin.HandlerFunc {
	meter := meterProvider.Meter(namespace)

	requestCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_http_requests_total", namespace),
		metric.WithDescription("Total number of local API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return passthrough
	}

	durationHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_http_request_duration_seconds", namespace),
		metric.WithDescription("Local API request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return passthrough
	}

	m := &httpMetrics{
		requestCounter: requestCounter,
		durationHisto:  durationHisto,
		domains:        make(map[string]struct{}, len(domains)),
	}
	for _, name := range domains {
		m.domains[name] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", sanitizePath(c.FullPath())),
			attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
			attribute.String("sync_domain", m.domainLabel(c.Param("domain"))),
		)

		m.requestCounter.Add(c.Request.Context(), 1, attrs)
		m.durationHisto.Record(c.Request.Context(), time.Since(start).Seconds(), attrs)
	}
}

func (m *httpMetrics) domainLabel(name string) string {
	if name == "" {
		return ""
	}
	if _, ok := m.domains[name]; ok {
		return name
	}
	return otherDomain
}

func passthrough(c *gin.Context) {
	c.Next()
}

// sanitizePath returns the matched route pattern, or "unknown" when no route matched.
func sanitizePath(fullPath string) string {
	if fullPath == "" {
		return "unknown"
	}
	return fullPath
}
