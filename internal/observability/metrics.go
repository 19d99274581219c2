package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the bot.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	Cycles          *prometheus.CounterVec // labels: outcome={ok,skipped,fetch_error,panic,cancelled}
	CycleDuration   prometheus.Histogram

	// Bulletin fetching and parsing.
	FetchErrors       prometheus.Counter
	LastFetchSuccess  prometheus.Gauge
	QuakesParsed      prometheus.Counter
	LinesRejected     prometheus.Counter
	QuakesSignificant prometheus.Counter

	// Publishing.
	StoreErrors        *prometheus.CounterVec // labels: op={lookup,record}
	RenderErrors       prometheus.Counter
	Publishes          *prometheus.CounterVec // labels: outcome={success,failure}
	AnnounceErrors     prometheus.Counter
	PublisherAvailable prometheus.Gauge
}

// NewMetrics creates and registers all bot metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.PipelineRunning,
		m.Cycles,
		m.CycleDuration,
		m.FetchErrors,
		m.LastFetchSuccess,
		m.QuakesParsed,
		m.LinesRejected,
		m.QuakesSignificant,
		m.StoreErrors,
		m.RenderErrors,
		m.Publishes,
		m.AnnounceErrors,
		m.PublisherAvailable,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quakebot",
			Name:      "pipeline_running",
			Help:      "1 when the polling loop is active, 0 when shut down.",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakebot",
			Name:      "cycles_total",
			Help:      "Poll cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quakebot",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-filter-dedupe-publish cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quakebot",
			Name:      "fetch_errors_total",
			Help:      "Bulletin fetches that failed (network, status, or framing).",
		}),
		LastFetchSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quakebot",
			Name:      "last_successful_fetch_timestamp_seconds",
			Help:      "Unix time of the last successful bulletin fetch.",
		}),
		QuakesParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quakebot",
			Name:      "quakes_parsed_total",
			Help:      "Bulletin rows parsed into earthquakes.",
		}),
		LinesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quakebot",
			Name:      "bulletin_lines_rejected_total",
			Help:      "Non-blank bulletin rows that could not be parsed.",
		}),
		QuakesSignificant: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quakebot",
			Name:      "quakes_significant_total",
			Help:      "Earthquakes at or above the magnitude threshold.",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakebot",
			Name:      "store_errors_total",
			Help:      "Posted-earthquake store failures by operation.",
		}, []string{"op"}),
		RenderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quakebot",
			Name:      "render_errors_total",
			Help:      "Earthquake images that could not be rendered.",
		}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakebot",
			Name:      "publish_total",
			Help:      "Publish attempts by outcome.",
		}, []string{"outcome"}),
		AnnounceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quakebot",
			Name:      "announce_errors_total",
			Help:      "Failures writing posted earthquakes to the announcement topic.",
		}),
		PublisherAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quakebot",
			Name:      "publisher_available",
			Help:      "1 when the publisher holds a session, 0 otherwise.",
		}),
	}
}
