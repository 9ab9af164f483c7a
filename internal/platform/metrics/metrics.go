package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "fulfillment"

// Metrics owns a private Prometheus registry with HTTP and domain collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latencyMS *prometheus.HistogramVec

	ordersCreated      prometheus.Counter
	stockConflicts     *prometheus.CounterVec
	discountRejections *prometheus.CounterVec
	discountsApplied   prometheus.Counter
	cancellations      *prometheus.CounterVec
	statusTransitions  *prometheus.CounterVec
	authVerifications  *prometheus.CounterVec
}

// New registers all collectors under namespace.
func New(namespace string) *Metrics {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		latencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method", "route"}),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created from confirmed payments.",
		}),
		stockConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_conflicts_total",
			Help:      "Stock validations or deductions rejected for insufficient stock.",
		}, []string{"stage"}),
		discountRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_rejections_total",
			Help:      "Discount validations that failed, by reason.",
		}, []string{"reason"}),
		discountsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discounts_applied_total",
			Help:      "Discount usages recorded.",
		}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Cancellation workflow outcomes.",
		}, []string{"outcome"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Order status transitions, by target status.",
		}, []string{"status"}),
		authVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_verifications_total",
			Help:      "Token verification outcomes.",
		}, []string{"kind", "result", "reason"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.latencyMS,
		m.ordersCreated, m.stockConflicts, m.discountRejections, m.discountsApplied,
		m.cancellations, m.statusTransitions, m.authVerifications,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware records request counts and latency labelled by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.latencyMS.WithLabelValues(r.Method, route).Observe(float64(time.Since(start)) / float64(time.Millisecond))
	})
}

// OrderCreated counts a created order.
func (m *Metrics) OrderCreated() { m.ordersCreated.Inc() }

// StockConflict counts an insufficient-stock rejection at stage ("validate" or "deduct").
func (m *Metrics) StockConflict(stage string) { m.stockConflicts.WithLabelValues(stage).Inc() }

// DiscountRejected counts a failed discount validation.
func (m *Metrics) DiscountRejected(reason string) { m.discountRejections.WithLabelValues(reason).Inc() }

// DiscountApplied counts a recorded discount usage.
func (m *Metrics) DiscountApplied() { m.discountsApplied.Inc() }

// CancellationOutcome counts requested, approved, rejected and direct cancellations.
func (m *Metrics) CancellationOutcome(outcome string) { m.cancellations.WithLabelValues(outcome).Inc() }

// StatusTransition counts an order moving to status.
func (m *Metrics) StatusTransition(status string) { m.statusTransitions.WithLabelValues(status).Inc() }

// RecordVerification satisfies auth.MetricsRecorder.
func (m *Metrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	m.authVerifications.WithLabelValues(kind, result, reason).Inc()
}
