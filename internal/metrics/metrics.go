package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Metrics groups the collectors of the service. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry setup.
type Metrics struct {
	Requests       *prometheus.CounterVec
	LatencyMS      *prometheus.HistogramVec
	StockConflicts *prometheus.CounterVec
	Shortfalls     prometheus.Counter
	Confirmations  *prometheus.CounterVec
	OutboxEvents   *prometheus.CounterVec
	ExpiredHolds   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		StockConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "cas_conflicts_total",
			Help:      "Stock compare-and-swap operations that lost after the bounded retry.",
		}, []string{"op"}),
		Shortfalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "post_payment_shortfalls_total",
			Help:      "Order items that could not be reserved after payment was confirmed.",
		}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "confirmations_total",
			Help:      "Payment confirmations by outcome.",
		}, []string{"result"}),
		OutboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox events handled by the relay.",
		}, []string{"status"}),
		ExpiredHolds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "expired_holds_total",
			Help:      "Reservation holds removed by the expiry sweep.",
		}),
	}

	reg.MustRegister(m.Requests, m.LatencyMS, m.StockConflicts, m.Shortfalls, m.Confirmations, m.OutboxEvents, m.ExpiredHolds)
	return m
}

func (m *Metrics) StockConflict(op string) {
	if m == nil {
		return
	}
	m.StockConflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) StockShortfall() {
	if m == nil {
		return
	}
	m.Shortfalls.Inc()
}

func (m *Metrics) Confirmation(result string) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(result).Inc()
}

func (m *Metrics) Outbox(status string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.OutboxEvents.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) HoldsExpired(n int64) {
	if m == nil || n == 0 {
		return
	}
	m.ExpiredHolds.Add(float64(n))
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
