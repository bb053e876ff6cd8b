// Package metrics aggregates run counters and exposes them to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/capitolmirror/capitolmirror/internal/domain"
)

// Metrics holds the ingestion counter families. One instance per process,
// registered against a caller-supplied registry so tests stay isolated.
type Metrics struct {
	Requests           *prometheus.CounterVec
	Retries            *prometheus.CounterVec
	RateLimitWaits     *prometheus.CounterVec
	RecordsReceived    *prometheus.CounterVec
	RecordsValidated   *prometheus.CounterVec
	RecordsStored      *prometheus.CounterVec
	DuplicatesSkipped  *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	StoreFailures      *prometheus.CounterVec
	PageFetchSeconds   *prometheus.HistogramVec
}

// New builds and registers the metric set.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capmirror", Name: "upstream_requests_total",
			Help: "Upstream page requests dispatched, by family and outcome class.",
		}, []string{"family", "class"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capmirror", Name: "page_retries_total",
			Help: "Page-level retries, by family.",
		}, []string{"family"}),
		RateLimitWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capmirror", Name: "rate_limit_waits_total",
			Help: "Retry-After waits honored, by family.",
		}, []string{"family"}),
		RecordsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capmirror", Name: "records_received_total",
			Help: "Raw records received from upstream, by family.",
		}, []string{"family"}),
		RecordsValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capmirror", Name: "records_validated_total",
			Help: "Records that passed normalization, by family.",
		}, []string{"family"}),
		RecordsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capmirror", Name: "records_stored_total",
			Help: "Records written to the store, by family.",
		}, []string{"family"}),
		DuplicatesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capmirror", Name: "duplicates_skipped_total",
			Help: "Records skipped by same-run deduplication, by family.",
		}, []string{"family"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capmirror", Name: "validation_failures_total",
			Help: "Records rejected by the validator, by family.",
		}, []string{"family"}),
		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capmirror", Name: "store_failures_total",
			Help: "Records the store rejected or dropped, by family.",
		}, []string{"family"}),
		PageFetchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "capmirror", Name: "page_fetch_seconds",
			Help:    "Wall time per upstream page fetch including governor wait.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"family"}),
	}

	reg.MustRegister(
		m.Requests, m.Retries, m.RateLimitWaits,
		m.RecordsReceived, m.RecordsValidated, m.RecordsStored,
		m.DuplicatesSkipped, m.ValidationFailures, m.StoreFailures,
		m.PageFetchSeconds,
	)
	return m
}

// ObserveFamily is a convenience for the counters keyed only by family.
func (m *Metrics) ObserveFamily(vec *prometheus.CounterVec, f domain.Family, n float64) {
	if n > 0 {
		vec.WithLabelValues(string(f)).Add(n)
	}
}
