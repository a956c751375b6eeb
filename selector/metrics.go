package selector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the prometheus metrics for candidate selection
type Metrics struct {
	Selections    *prometheus.CounterVec
	ProbeLookups  *prometheus.CounterVec
	CandidateSize prometheus.Histogram
	CacheHits     prometheus.Counter
}

// NewMetrics creates and registers the selector metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "psbox_selections_total",
				Help: "Targets with a candidate set, by label",
			},
			[]string{"label"},
		),

		ProbeLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "psbox_probe_lookups_total",
				Help: "Probe lookups by AS against the platform",
			},
			[]string{"scope", "result"},
		),

		CandidateSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "psbox_candidate_set_size",
				Help:    "Number of candidate probes per target",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "psbox_candidate_cache_hits_total",
				Help: "Targets whose AS candidates were already cached in the run",
			},
		),
	}

	reg.MustRegister(
		m.Selections,
		m.ProbeLookups,
		m.CandidateSize,
		m.CacheHits,
	)

	return m
}
