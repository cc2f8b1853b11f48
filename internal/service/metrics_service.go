package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luminalearn/coursepay-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the payment lifecycle.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	checkoutTotal   prometheus.Counter
	verifyTotal     *prometheus.CounterVec
	webhookTotal    *prometheus.CounterVec
	activationTotal prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	checkoutTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_checkouts_total",
		Help: "Total checkout sessions created at the gateway",
	})

	verifyTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Total verification calls by outcome",
	}, []string{"outcome"})

	webhookTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Total webhook deliveries by result",
	}, []string{"result"})

	activationTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_activations_total",
		Help: "Total enrollment activations applied",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, checkoutTotal, verifyTotal, webhookTotal, activationTotal, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		checkoutTotal:   checkoutTotal,
		verifyTotal:     verifyTotal,
		webhookTotal:    webhookTotal,
		activationTotal: activationTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records per-route request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveCheckout counts a checkout session created at the gateway.
func (m *MetricsService) ObserveCheckout() {
	if m == nil {
		return
	}
	m.checkoutTotal.Inc()
}

// ObserveVerify counts a verification call by outcome.
func (m *MetricsService) ObserveVerify(outcome models.VerifyOutcome) {
	if m == nil {
		return
	}
	m.verifyTotal.WithLabelValues(string(outcome)).Inc()
}

// ObserveWebhook counts a webhook delivery by how it was handled.
func (m *MetricsService) ObserveWebhook(result models.WebhookResult) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(string(result)).Inc()
}

// ObserveActivation counts an applied enrollment activation.
func (m *MetricsService) ObserveActivation() {
	if m == nil {
		return
	}
	m.activationTotal.Inc()
}
