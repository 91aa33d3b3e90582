// Package metrics exposes Prometheus collectors for harvest runs.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics owns the run collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pagesTotal      *prometheus.CounterVec
	artifactsTotal  *prometheus.CounterVec
	fetchTotal      *prometheus.CounterVec
	fetchAttempts   *prometheus.HistogramVec
	fetchBytesTotal *prometheus.CounterVec
	saveDuration    *prometheus.HistogramVec
	rateLimitDelay  *prometheus.HistogramVec
	runDuration     prometheus.Gauge
	runState        *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_pages_total",
			Help: "Pages handled, labeled by outcome.",
		}, []string{"status"}),
		artifactsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_artifacts_total",
			Help: "Artifacts attempted, labeled by kind and status.",
		}, []string{"kind", "status"}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_fetch_total",
			Help: "Artifact downloads, labeled by site and result.",
		}, []string{"site", "result"}),
		fetchAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_fetch_attempts",
			Help:    "HTTP attempts per download.",
			Buckets: []float64{1, 2, 3, 5, 8},
		}, []string{"result"}),
		fetchBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		saveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_save_duration_seconds",
			Help:    "Wall time to persist one artifact, labeled by kind.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"kind"}),
		rateLimitDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_fetch_ratelimit_delay_seconds",
			Help:    "Time spent waiting on the per-host rate limiter.",
			Buckets: prometheus.DefBuckets,
		}, []string{"site"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		runState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvester_run_state",
			Help: "Set to 1 for the terminal state of the last run.",
		}, []string{"state"}),
	}
	for _, collector := range []prometheus.Collector{
		m.pagesTotal,
		m.artifactsTotal,
		m.fetchTotal,
		m.fetchAttempts,
		m.fetchBytesTotal,
		m.saveDuration,
		m.rateLimitDelay,
		m.runDuration,
		m.runState,
	} {
		if err := m.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register run collector: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the underlying registry as a Gatherer.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObservePage counts one page outcome.
func (m *Metrics) ObservePage(status string) {
	if m == nil {
		return
	}
	m.pagesTotal.WithLabelValues(status).Inc()
}

// ObserveArtifact counts one artifact outcome and its save latency.
func (m *Metrics) ObserveArtifact(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.artifactsTotal.WithLabelValues(kind, status).Inc()
	m.saveDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveFetch records one completed download.
func (m *Metrics) ObserveFetch(site, result string, attempts, bytesFetched int) {
	if m == nil {
		return
	}
	site = SanitizeSite(site)
	m.fetchTotal.WithLabelValues(site, result).Inc()
	m.fetchAttempts.WithLabelValues(result).Observe(float64(attempts))
	if bytesFetched > 0 {
		m.fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records how long a download waited for its host's token.
func (m *Metrics) ObserveRateLimitDelay(host string, waited time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitDelay.WithLabelValues(SanitizeSite(host)).Observe(waited.Seconds())
}

// ObserveRun records the terminal state and duration of a run.
func (m *Metrics) ObserveRun(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Set(elapsed.Seconds())
	m.runState.Reset()
	m.runState.WithLabelValues(state).Set(1)
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
