package metrics

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"plugkit/internal/core"
	"plugkit/pkg/pluginapi"
)

// Metrics счетчики жизненного цикла плагинов.
type Metrics struct {
	registry *prometheus.Registry

	LifecycleTotal  *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	ExecuteDuration *prometheus.HistogramVec
	LiveHandles     prometheus.Gauge
}

// New создает и регистрирует метрики в registry (новый registry при nil).
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		LifecycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugkit_lifecycle_events_total",
				Help: "Total number of plugin lifecycle events",
			},
			[]string{"op", "plugin", "status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugkit_errors_total",
				Help: "Total number of plugin errors by taxonomy kind",
			},
			[]string{"op", "kind"},
		),
		ExecuteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugkit_execute_duration_seconds",
				Help:    "Plugin execute duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"plugin"},
		),
		LiveHandles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugkit_live_handles",
				Help: "Number of plugin handles not yet released",
			},
		),
	}
	registry.MustRegister(m.LifecycleTotal, m.ErrorsTotal, m.ExecuteDuration, m.LiveHandles)
	return m
}

// Observe реализует core.Observer.
func (m *Metrics) Observe(ctx context.Context, ev core.Event) {
	status := "ok"
	if ev.Err != nil {
		status = "error"
		kind := pluginapi.KindOf(ev.Err).String()
		if pluginapi.KindOf(ev.Err) == 0 {
			kind = "unknown"
		}
		m.ErrorsTotal.WithLabelValues(string(ev.Op), kind).Inc()
	}
	m.LifecycleTotal.WithLabelValues(string(ev.Op), ev.Plugin, status).Inc()

	switch ev.Op {
	case core.OpExecute:
		m.ExecuteDuration.WithLabelValues(ev.Plugin).Observe(ev.Duration.Seconds())
	case core.OpCreate:
		if ev.Err == nil {
			m.LiveHandles.Inc()
		}
	case core.OpRelease:
		m.LiveHandles.Dec()
	}
}

// WriteText выводит метрики в текстовом формате Prometheus.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
