package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "customdomains_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "customdomains_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	dnsMethodTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "customdomains_dns_method_total",
		Help: "Resolver chain method attempts by method and outcome (records, empty, error).",
	}, []string{"method", "outcome"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "customdomains_verifications_total",
		Help: "Ownership verifications by path (check_now, background) and outcome.",
	}, []string{"path", "outcome"})

	reconcileOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "customdomains_reconcile_outcomes_total",
		Help: "Background reconciliation attempt outcomes.",
	}, []string{"outcome"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "customdomains_webhook_deliveries_total",
		Help: "Webhook delivery attempts by event type and success.",
	}, []string{"event", "success"})

	dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "customdomains_dependency_up",
		Help: "Whether the last probe of a backing store succeeded (1) or failed (0).",
	}, []string{"dependency"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		requestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordDNSMethod matches dns.MethodMetricsFunc.
func RecordDNSMethod(method, outcome string) {
	dnsMethodTotal.WithLabelValues(method, outcome).Inc()
}

// RecordVerification is the domains.Service metrics callback.
func RecordVerification(path, outcome string) {
	verificationsTotal.WithLabelValues(path, outcome).Inc()
}

// RecordReconcileOutcome is the reconcile.Scheduler metrics callback.
func RecordReconcileOutcome(outcome string) {
	reconcileOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordDependency is the health.Checker metrics callback.
func RecordDependency(dependency string, success bool) {
	v := 0.0
	if success {
		v = 1
	}
	dependencyUp.WithLabelValues(dependency).Set(v)
}

// RecordWebhookDelivery is the webhooks.Dispatcher metrics callback.
func RecordWebhookDelivery(eventType string, success bool) {
	webhookDeliveriesTotal.WithLabelValues(eventType, strconv.FormatBool(success)).Inc()
}

// RegisterPendingGauge exports the number of active reconciliation chains.
// Call it once per process.
func RegisterPendingGauge(pending func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "customdomains_reconcile_pending",
		Help: "Domains with an active background verification chain.",
	}, func() float64 { return float64(pending()) })
}
