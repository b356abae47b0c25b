package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes.
const (
	OutcomeFetched = "fetched"
	OutcomeCached  = "cached"
	OutcomeFailed  = "failed"
)

// Metrics is the set of instruments for one process.
type Metrics struct {
	segments      *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	inflight      prometheus.Gauge
	merges        *prometheus.CounterVec
	mergeDuration prometheus.Histogram
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		segments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gribslurp",
			Name:      "segments_total",
			Help:      "Segment fetches by transport and outcome.",
		}, []string{"transport", "outcome"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gribslurp",
			Name:      "fetched_bytes_total",
			Help:      "Bytes written to the local cache by transport.",
		}, []string{"transport"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gribslurp",
			Name:      "segment_fetch_duration_seconds",
			Help:      "Time spent fetching one segment over the network.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"transport"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "gribslurp",
			Name:      "segments_inflight",
			Help:      "Segment fetches currently running.",
		}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gribslurp",
			Name:      "merges_total",
			Help:      "Segment merges by outcome.",
		}, []string{"outcome"}),
		mergeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gribslurp",
			Name:      "merge_duration_seconds",
			Help:      "Time spent merging segment files.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveFetch records one segment fetch.
func (m *Metrics) ObserveFetch(transport, outcome string, n int64, d time.Duration) {
	if m == nil {
		return
	}
	m.segments.WithLabelValues(transport, outcome).Inc()
	if outcome == OutcomeFetched {
		m.bytes.WithLabelValues(transport).Add(float64(n))
		m.fetchDuration.WithLabelValues(transport).Observe(d.Seconds())
	}
}

// Inflight adjusts the number of running fetches by delta.
func (m *Metrics) Inflight(delta float64) {
	if m == nil {
		return
	}
	m.inflight.Add(delta)
}

// ObserveMerge records one merge.
func (m *Metrics) ObserveMerge(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.merges.WithLabelValues(outcome).Inc()
	m.mergeDuration.Observe(d.Seconds())
}
