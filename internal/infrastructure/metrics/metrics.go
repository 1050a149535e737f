// Package metrics exposes ledger, bus, websocket and HTTP measurements in
// Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"backoffice/internal/core/entity"
)

const namespace = "backoffice"

// Metrics holds every collector. It implements stock.Recorder,
// event.DeliveryRecorder and websocket.ClientRecorder.
type Metrics struct {
	gatherer prometheus.Gatherer

	MovementsAppended   *prometheus.CounterVec
	ReconcileOutcomes   *prometheus.CounterVec
	Anomalies           prometheus.Counter
	StaleProjections    prometheus.Counter
	RecomputeDuration   *prometheus.HistogramVec
	BusDeliveries       *prometheus.CounterVec
	WebsocketClients    prometheus.Gauge
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers collectors on reg. Pass prometheus.NewRegistry() in tests so
// repeated construction does not collide.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		MovementsAppended: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stock_movements_appended_total",
				Help:      "Movements appended to the ledger by movement type",
			},
			[]string{"movement_type"},
		),
		ReconcileOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stock_reconcile_total",
				Help:      "Reconcile requests by outcome",
			},
			[]string{"outcome"}, // noop, increment, decrement, rejected
		),
		Anomalies: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_negative_balance_anomalies_total",
			Help:      "Outflows clamped at zero during replay",
		}),
		StaleProjections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_projection_stale_total",
			Help:      "Balances marked stale after a failed recompute or publish",
		}),
		RecomputeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stock_recompute_duration_seconds",
				Help:      "Duration of full ledger replays",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		BusDeliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_bus_deliveries_total",
				Help:      "Handler invocations on the notification bus",
			},
			[]string{"channel", "status"},
		),
		WebsocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket observers",
		}),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Handler serves the registry in exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// --- stock.Recorder ---

func (m *Metrics) MovementAppended(t entity.MovementType) {
	m.MovementsAppended.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) ReconcileCompleted(outcome string) {
	m.ReconcileOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AnomaliesDetected(n int) {
	m.Anomalies.Add(float64(n))
}

func (m *Metrics) ProjectionStale() {
	m.StaleProjections.Inc()
}

func (m *Metrics) RecomputeObserved(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RecomputeDuration.WithLabelValues(status).Observe(d.Seconds())
}

// --- event.DeliveryRecorder ---

func (m *Metrics) Delivered(channel string) {
	m.BusDeliveries.WithLabelValues(channel, "ok").Inc()
}

func (m *Metrics) Failed(channel string) {
	m.BusDeliveries.WithLabelValues(channel, "error").Inc()
}

// --- websocket.ClientRecorder ---

func (m *Metrics) ClientsChanged(n int) {
	m.WebsocketClients.Set(float64(n))
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
