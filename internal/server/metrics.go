package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the collectors exposed on /metrics. Each server owns its
// registry so that several can live in one process.
type metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	directusRequestsTotal   *prometheus.CounterVec
	directusRequestDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		directusRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directus_requests_total",
			Help: "Requests sent to the Directus backend by operation and status",
		}, []string{"operation", "status"}),
		directusRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "directus_request_duration_seconds",
			Help:    "Directus backend request latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"operation"}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.directusRequestsTotal,
		m.directusRequestDuration,
	)
	return m
}

// registerActiveSessions exposes the number of live sessions.
func (m *metrics) registerActiveSessions(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Sessions held in memory by this process",
	}, func() float64 {
		return float64(count())
	}))
}

// middleware records every request under its route pattern.
func (m *metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := strings.ToUpper(c.Request.Method)

		m.httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// observeDirectus is the directus.Observer for every session client.
func (m *metrics) observeDirectus(operation string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.directusRequestsTotal.WithLabelValues(operation, label).Inc()
	m.directusRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *metrics) handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
