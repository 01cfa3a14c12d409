package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/sentigrade/sentigrade/internal/agent"
)

// Metrics exports agent activity as Prometheus metrics. It observes the
// agent; each cycle report updates every collector. The registry is owned
// here, so multiple instances (tests included) never collide.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal    *prometheus.CounterVec // status: clean|abandoned
	CycleDuration  prometheus.Histogram
	IntentsTotal   *prometheus.CounterVec // decision: approved|rejected|resized
	OrdersTotal    *prometheus.CounterVec // result: submitted|failed
	Equity         prometheus.Gauge
	Cash           prometheus.Gauge
	CompositeScore *prometheus.GaugeVec // per asset
}

var _ agent.Observer = (*Metrics)(nil)

// NewMetrics builds and registers all collectors.
func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),

		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentigrade_cycles_total",
				Help: "Total agent cycles by outcome",
			},
			[]string{"status"},
		),

		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sentigrade_cycle_duration_seconds",
				Help:    "Wall time of one agent cycle",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		IntentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentigrade_intents_total",
				Help: "Strategy intents by risk gate decision",
			},
			[]string{"decision"},
		),

		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentigrade_orders_total",
				Help: "Order submissions by result",
			},
			[]string{"result"},
		),

		Equity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentigrade_equity",
				Help: "Marked-to-market account equity after the last cycle",
			},
		),

		Cash: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentigrade_cash",
				Help: "Cash balance after the last cycle",
			},
		),

		CompositeScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentigrade_composite_score",
				Help: "Latest composite signal score per asset (-100..100)",
			},
			[]string{"asset"},
		),
	}

	metrics.registry.MustRegister(
		metrics.CyclesTotal,
		metrics.CycleDuration,
		metrics.IntentsTotal,
		metrics.OrdersTotal,
		metrics.Equity,
		metrics.Cash,
		metrics.CompositeScore,
	)
	return metrics
}

// OnCycle records one cycle report.
func (m *Metrics) OnCycle(report agent.CycleReport) {
	status := "clean"
	if report.Err != "" {
		status = "abandoned"
	}
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(report.Duration.Seconds())

	m.IntentsTotal.WithLabelValues("approved").Add(float64(report.Approved))
	m.IntentsTotal.WithLabelValues("rejected").Add(float64(report.Rejected))
	m.IntentsTotal.WithLabelValues("resized").Add(float64(report.Resized))
	m.OrdersTotal.WithLabelValues("submitted").Add(float64(report.Submitted))
	m.OrdersTotal.WithLabelValues("failed").Add(float64(report.Failed))

	if report.Err == "" {
		m.Equity.Set(report.Equity)
		m.Cash.Set(report.Cash)
	}
	for asset, composite := range report.Composites {
		m.CompositeScore.WithLabelValues(asset).Set(composite.Score)
	}
}

// CycleCount reads a cycle counter back out, for the status endpoint.
func (m *Metrics) CycleCount(status string) float64 {
	counter, err := m.CyclesTotal.GetMetricWithLabelValues(status)
	if err != nil {
		return 0
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
