package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// promSet mirrors the collector's counters for the node_exporter textfile
// collector. Each Collector gets its own registry.
type promSet struct {
	registry *prometheus.Registry

	candidates    *prometheus.GaugeVec
	rejections    *prometheus.CounterVec
	probes        *prometheus.CounterVec
	failures      *prometheus.CounterVec
	probeDuration prometheus.Histogram
	scanDuration  prometheus.Gauge
	lastScan      prometheus.Gauge
}

func newPromSet() *promSet {
	registry := prometheus.NewRegistry()

	ps := &promSet{registry: registry}

	ps.candidates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rayscan_candidates",
		Help: "Candidates at each stage of the last scan",
	}, []string{"stage"})
	registry.MustRegister(ps.candidates)

	ps.rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rayscan_filter_rejections_total",
		Help: "Candidates dropped by the filter, by reason",
	}, []string{"reason"})
	registry.MustRegister(ps.rejections)

	ps.probes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rayscan_probes_total",
		Help: "Probes run through the engine, by outcome",
	}, []string{"result"})
	registry.MustRegister(ps.probes)

	ps.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rayscan_probe_failures_total",
		Help: "Failed probes by error class",
	}, []string{"kind"})
	registry.MustRegister(ps.failures)

	ps.probeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rayscan_probe_duration_seconds",
		Help:    "Duration of successful probes",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15},
	})
	registry.MustRegister(ps.probeDuration)

	ps.scanDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rayscan_scan_duration_seconds",
		Help: "Wall time of the last scan",
	})
	registry.MustRegister(ps.scanDuration)

	ps.lastScan = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rayscan_last_scan_timestamp_seconds",
		Help: "Unix time the last scan finished",
	})
	registry.MustRegister(ps.lastScan)

	return ps
}

// WriteTextfile dumps the collector in Prometheus text format to path.
func (c *Collector) WriteTextfile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create metrics dir: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, c.prom.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
