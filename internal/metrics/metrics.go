// Package metrics exposes the engine's counters and gauges over
// Prometheus, mirroring the fields returned by the engine's debug
// operation, using the standard promauto/promhttp registration idiom.
// Each Registry owns its own prometheus.Registry rather than the
// global default one, so a process that constructs more than one
// engine (tests, embedders) never hits a duplicate-registration panic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	ActiveDownloads    prometheus.Gauge
	QueuedDownloads    prometheus.Gauge
	CompletedTotal     prometheus.Counter
	FailedTotal        prometheus.Counter
	BytesDownloaded    prometheus.Counter
	BreakerOpenTotal   prometheus.Counter
	DownloadStateGauge *prometheus.GaugeVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		ActiveDownloads: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cartvault",
			Name:      "active_downloads",
			Help:      "Number of downloads currently in a non-terminal, non-queued state.",
		}),
		QueuedDownloads: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cartvault",
			Name:      "queued_downloads",
			Help:      "Number of downloads waiting in QUEUED state.",
		}),
		CompletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cartvault",
			Name:      "completed_total",
			Help:      "Total downloads that reached COMPLETED.",
		}),
		FailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cartvault",
			Name:      "failed_total",
			Help:      "Total downloads that reached FAILED.",
		}),
		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cartvault",
			Name:      "bytes_downloaded_total",
			Help:      "Cumulative bytes written across all downloads.",
		}),
		BreakerOpenTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cartvault",
			Name:      "breaker_open_total",
			Help:      "Total number of times a circuit breaker tripped open.",
		}),
		DownloadStateGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cartvault",
			Name:      "downloads_by_state",
			Help:      "Current download count per state.",
		}, []string{"state"}),
	}
}

// Handler returns the HTTP handler to mount at /metrics, scoped to
// this registry's own metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
