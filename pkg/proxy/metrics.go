package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records proxy sync outcomes. A nil *Metrics records nothing.
type Metrics struct {
	syncs       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess prometheus.Gauge
}

// NewMetrics registers the sync collectors with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		syncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentfilter",
			Subsystem: "proxy",
			Name:      "syncs_total",
			Help:      "Block-list pushes to the reverse proxy by mode and result.",
		}, []string{"mode", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contentfilter",
			Subsystem: "proxy",
			Name:      "sync_duration_seconds",
			Help:      "Time spent pushing the block-list to the reverse proxy.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"mode"}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "contentfilter",
			Subsystem: "proxy",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful push.",
		}),
	}
}

func (m *Metrics) observe(mode Mode, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.syncs.WithLabelValues(string(mode), result).Inc()
	m.duration.WithLabelValues(string(mode)).Observe(took.Seconds())
	if err == nil {
		m.lastSuccess.SetToCurrentTime()
	}
}
