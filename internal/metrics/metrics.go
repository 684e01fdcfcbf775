// Package metrics defines Prometheus metrics for the diagnostics proxy.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diagproxy_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagproxy_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	AuthzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagproxy_authz_decisions_total",
			Help: "Authorization decisions by mode and reason",
		},
		[]string{"mode", "reason", "allowed"},
	)

	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagproxy_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"class"},
	)

	Redactions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "diagproxy_redactions_total",
			Help: "Secret-like substrings replaced in returned or shared log lines",
		},
	)

	AuditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagproxy_audit_writes_total",
			Help: "Audit appends by channel and outcome (ok or error)",
		},
		[]string{"channel", "outcome"},
	)

	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagproxy_upstream_errors_total",
			Help: "Failed calls to the log backend or host platform",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal,
		AuthzDecisions, RateLimitRejections, Redactions,
		AuditWrites, UpstreamErrors,
	)
}

// Middleware records HTTP request duration and count per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
