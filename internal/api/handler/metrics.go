package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	animoraRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "animora_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	animoraRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "animora_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	animoraAuthEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "animora_auth_events_total",
		Help: "Account lifecycle operations by event and result.",
	}, []string{"event", "result"})

	animoraEmailDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "animora_email_dispatch_total",
		Help: "Transactional email delivery attempts by template and status.",
	}, []string{"template", "status"})

	animoraDependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "animora_dependency_up",
		Help: "Whether the last probe of a dependency succeeded (1) or failed (0).",
	}, []string{"name"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		animoraRequestsTotal.WithLabelValues(method, path, status).Inc()
		animoraRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAuthEvent counts an account lifecycle operation outcome.
func RecordAuthEvent(event, result string) {
	animoraAuthEventsTotal.WithLabelValues(event, result).Inc()
}

// RecordEmailDispatch records an email delivery attempt.
func RecordEmailDispatch(template string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	animoraEmailDispatchTotal.WithLabelValues(template, status).Inc()
}

// RecordDependency records a dependency probe result.
func RecordDependency(name string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	animoraDependencyUp.WithLabelValues(name).Set(v)
}
