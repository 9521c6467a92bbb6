package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the Prometheus collectors of the ingestion pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Provider fetches by outcome: ok, empty, error.
	Fetches       *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec

	// Rows written per table.
	RowsWritten *prometheus.CounterVec

	// Day runs by kind (ingest, recompute, synthesize) and result.
	DayRuns     *prometheus.CounterVec
	DayDuration *prometheus.HistogramVec

	LastIngestedDay prometheus.Gauge
	Alerts          *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podcharts_fetches_total",
				Help: "Chart fetches by region, category and outcome",
			},
			[]string{"region", "category", "outcome"},
		),

		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "podcharts_fetch_duration_seconds",
				Help:    "Chart fetch latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),

		RowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podcharts_rows_written_total",
				Help: "Rows upserted by table",
			},
			[]string{"table"},
		),

		DayRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podcharts_day_runs_total",
				Help: "Per-day pipeline runs by kind and result",
			},
			[]string{"kind", "result"},
		),

		DayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "podcharts_day_duration_seconds",
				Help:    "Duration of a per-day pipeline run in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),

		LastIngestedDay: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "podcharts_last_ingested_day_timestamp_seconds",
				Help: "Unix time of midnight UTC of the last successfully ingested day",
			},
		),

		Alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podcharts_alerts_total",
				Help: "Movers digests sent by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Fetches,
		m.FetchDuration,
		m.RowsWritten,
		m.DayRuns,
		m.DayDuration,
		m.LastIngestedDay,
		m.Alerts,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Timer measures one per-day run.
type Timer struct {
	metrics *Metrics
	kind    string
	start   time.Time
}

// StartDay begins timing a run of the given kind.
func (m *Metrics) StartDay(kind string) *Timer {
	return &Timer{metrics: m, kind: kind, start: time.Now()}
}

// Stop records the run's duration and result.
func (t *Timer) Stop(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	d := time.Since(t.start)
	t.metrics.DayDuration.WithLabelValues(t.kind).Observe(d.Seconds())
	t.metrics.DayRuns.WithLabelValues(t.kind, result).Inc()

	log.Debug().
		Str("kind", t.kind).
		Str("result", result).
		Dur("duration", d).
		Msg("day run finished")
}

// ObserveFetch records one chart fetch.
func (m *Metrics) ObserveFetch(region, category, outcome string, d time.Duration) {
	m.Fetches.WithLabelValues(region, category, outcome).Inc()
	m.FetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// AddRows counts rows written to a table.
func (m *Metrics) AddRows(table string, n int) {
	if n > 0 {
		m.RowsWritten.WithLabelValues(table).Add(float64(n))
	}
}
