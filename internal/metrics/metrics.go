// Package metrics holds the Prometheus instruments for rendering and the
// render endpoint. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the render pipeline and endpoint.
type Metrics struct {
	Registry *prometheus.Registry

	RenderDuration   *prometheus.HistogramVec
	RenderErrors     *prometheus.CounterVec
	ComponentsTotal  *prometheus.CounterVec
	UnknownTotal     *prometheus.CounterVec
	EndpointRequests *prometheus.CounterVec
	LiveClients      prometheus.Gauge
	RegistrySize     prometheus.Gauge
	Reloads          prometheus.Counter
}

var durationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// New registers every instrument on a fresh registry. Go runtime and
// process collectors are included so the registry can back /metrics alone.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWith(reg)
}

// NewWith registers every instrument on reg.
func NewWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		RenderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hydra_render_duration_seconds",
			Help:    "Duration of top-level component renders",
			Buckets: durationBuckets,
		}, []string{"component"}),
		RenderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hydra_render_errors_total",
			Help: "Failed renders by error type",
		}, []string{"type"}),
		ComponentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hydra_components_rendered_total",
			Help: "Component instances rendered, including nested ones",
		}, []string{"component"}),
		UnknownTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hydra_unknown_components_total",
			Help: "Potential component tags with no registered descriptor",
		}, []string{"tag"}),
		EndpointRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hydra_render_requests_total",
			Help: "Render endpoint requests by status code",
		}, []string{"code"}),
		LiveClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_live_clients",
			Help: "Connected live-reload clients",
		}),
		RegistrySize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_registry_components",
			Help: "Components in the current registry snapshot",
		}),
		Reloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydra_registry_reloads_total",
			Help: "Registry hot reloads",
		}),
	}
}

// ObserveRender records a top-level render. Call with time.Now() at the
// start of the render.
func (m *Metrics) ObserveRender(component string, start time.Time) {
	if m == nil {
		return
	}
	m.RenderDuration.WithLabelValues(component).Observe(time.Since(start).Seconds())
}

// IncrementRenderError counts a failed render.
func (m *Metrics) IncrementRenderError(errType string) {
	if m == nil {
		return
	}
	m.RenderErrors.WithLabelValues(errType).Inc()
}

// IncrementComponent counts one rendered instance.
func (m *Metrics) IncrementComponent(component string) {
	if m == nil {
		return
	}
	m.ComponentsTotal.WithLabelValues(component).Inc()
}

// IncrementUnknown counts a potential component left untouched.
func (m *Metrics) IncrementUnknown(tag string) {
	if m == nil {
		return
	}
	m.UnknownTotal.WithLabelValues(tag).Inc()
}

// IncrementRequest counts a render endpoint response.
func (m *Metrics) IncrementRequest(code string) {
	if m == nil {
		return
	}
	m.EndpointRequests.WithLabelValues(code).Inc()
}

// SetLiveClients records the live-reload client count.
func (m *Metrics) SetLiveClients(n int) {
	if m == nil {
		return
	}
	m.LiveClients.Set(float64(n))
}

// ObserveReload records a registry swap.
func (m *Metrics) ObserveReload(size int) {
	if m == nil {
		return
	}
	m.Reloads.Inc()
	m.RegistrySize.Set(float64(size))
}
