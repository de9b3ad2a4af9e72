package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/regtech-io/pulse/pkg/detector"
	"github.com/regtech-io/pulse/pkg/pubsub"
)

// Metrics holds all Prometheus metrics for the daemon. The detector, hubs and
// gateway keep their own atomic counters; this package bridges those
// snapshots into collectors so the hot paths never touch Prometheus directly.
type Metrics struct {
	registry *prometheus.Registry
}

// NewMetrics creates an empty registry. Components are attached with the
// Register* methods as the daemon wires them up.
func NewMetrics() *Metrics {
	return &Metrics{
		registry: prometheus.NewRegistry(),
	}
}

// RegisterDetector exposes change detector counters.
func (m *Metrics) RegisterDetector(stats func() detector.Stats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "detector_active_filters",
				Help: "Number of filters currently being polled",
			},
			func() float64 { return float64(stats().ActiveFilters) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "detector_polls_total",
				Help: "Total number of poll cycles executed",
			},
			func() float64 { return float64(stats().Polls) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "detector_poll_errors_total",
				Help: "Total number of failed source queries",
			},
			func() float64 { return float64(stats().PollErrors) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "detector_patches_emitted_total",
				Help: "Total number of patches delivered to subscribers",
			},
			func() float64 { return float64(stats().PatchesEmitted) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "detector_patches_dropped_truncated_total",
				Help: "Total number of patches dropped for exceeding the size caps",
			},
			func() float64 { return float64(stats().DroppedTruncated) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "detector_patches_dropped_throttled_total",
				Help: "Total number of patches dropped by the emission throttle",
			},
			func() float64 { return float64(stats().DroppedThrottled) },
		),
	)
}

// DetectorObservers registers poll-duration and patch-size histograms and
// returns the callbacks the detector invokes when they fire. Unlike the
// snapshot collectors above these sit on the poll path, but a histogram
// Observe is a single atomic add per bucket.
func (m *Metrics) DetectorObservers() (pollDone func(time.Duration), patchEmitted func(int)) {
	pollDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detector_poll_duration_seconds",
		Help:    "Duration of one source query and diff for a single filter",
		Buckets: prometheus.DefBuckets,
	})
	patchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detector_patch_total_changes",
		Help:    "Total change count of emitted patches",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
	m.registry.MustRegister(pollDuration, patchSize)

	return func(d time.Duration) { pollDuration.Observe(d.Seconds()) },
		func(n int) { patchSize.Observe(float64(n)) }
}

// RegisterHub exposes one event hub's counters. The hub name becomes a
// constant label so several hubs can share the registry.
func (m *Metrics) RegisterHub(name string, stats func() pubsub.Stats) {
	labels := prometheus.Labels{"hub": name}

	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "hub_local_subscribers",
				Help:        "Number of local subscribers",
				ConstLabels: labels,
			},
			func() float64 { return float64(stats().LocalSubscribers) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "hub_active_channels",
				Help:        "Number of established distributed channels",
				ConstLabels: labels,
			},
			func() float64 { return float64(stats().ActiveChannels) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name:        "hub_events_published_total",
				Help:        "Total number of events published to the transport",
				ConstLabels: labels,
			},
			func() float64 { return float64(stats().Published) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name:        "hub_publish_failures_total",
				Help:        "Total number of failed transport publishes",
				ConstLabels: labels,
			},
			func() float64 { return float64(stats().PublishFailures) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name:        "hub_events_received_total",
				Help:        "Total number of events received from the transport",
				ConstLabels: labels,
			},
			func() float64 { return float64(stats().Received) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name:        "hub_events_self_filtered_total",
				Help:        "Total number of own events discarded on receipt",
				ConstLabels: labels,
			},
			func() float64 { return float64(stats().SelfFiltered) },
		),
	)
}

// RegisterGateway exposes gateway connection counts.
func (m *Metrics) RegisterGateway(clients func() int) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "gateway_clients_connected",
				Help: "Number of connected WebSocket clients",
			},
			func() float64 { return float64(clients()) },
		),
	)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
