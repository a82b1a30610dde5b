// Package metrics exposes crawl events as Prometheus metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vollahub/internal/crawler"
	"vollahub/internal/fetcher"
)

// Namespace prefixes every metric name.
const Namespace = "vollahub"

// Metrics holds the crawl collectors. It implements crawler.Sink.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	RunDurationSeconds  *prometheus.HistogramVec
	Entries             *prometheus.GaugeVec
	EnrichFailuresTotal *prometheus.CounterVec
	FetchErrorsTotal    *prometheus.CounterVec
	RunsInFlight        *prometheus.GaugeVec
}

// New creates and registers the collectors on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "crawl_runs_total",
			Help:      "Finished crawl runs by kind and outcome",
		}, []string{"kind", "outcome"}),
		RunDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "crawl_duration_seconds",
			Help:      "Wall time of crawl runs",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		Entries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "crawl_entries",
			Help:      "Entries returned by the last finished run",
		}, []string{"kind"}),
		EnrichFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "enrich_failures_total",
			Help:      "Enrichment sub-fetches that failed and left an empty excerpt",
		}, []string{"kind"}),
		FetchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fetch_errors_total",
			Help:      "Fetch errors by crawl kind, state and error kind",
		}, []string{"kind", "stage", "error_kind"}),
		RunsInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "crawl_runs_in_flight",
			Help:      "Crawl runs currently executing",
		}, []string{"kind"}),
	}
}

// Emit records one crawl event.
func (m *Metrics) Emit(ev crawler.Event) {
	kind := string(ev.Kind)
	switch ev.Type {
	case crawler.EventTransition:
		if ev.State == crawler.StateFetching {
			m.RunsInFlight.WithLabelValues(kind).Inc()
		}
	case crawler.EventItem:
		if ev.Err != nil && !ev.Skipped {
			m.EnrichFailuresTotal.WithLabelValues(kind).Inc()
			m.FetchErrorsTotal.WithLabelValues(kind, string(crawler.StateEnriching), fetcher.KindOf(ev.Err)).Inc()
		}
	case crawler.EventFinished:
		m.RunsInFlight.WithLabelValues(kind).Dec()
		m.RunsTotal.WithLabelValues(kind, string(ev.Outcome)).Inc()
		m.RunDurationSeconds.WithLabelValues(kind).Observe(ev.Duration.Seconds())
		m.Entries.WithLabelValues(kind).Set(float64(ev.Count))
		var stageErr *crawler.StageError
		if errors.As(ev.Err, &stageErr) {
			m.FetchErrorsTotal.WithLabelValues(kind, string(stageErr.State), fetcher.KindOf(stageErr.Err)).Inc()
		}
	}
}
