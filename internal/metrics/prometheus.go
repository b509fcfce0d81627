package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromCollector exposes a Collector's counters to a Prometheus registry.
// Values are read at scrape time.
type PromCollector struct {
	source *Collector

	scans       *prometheus.Desc
	failed      *prometheus.Desc
	partial     *prometheus.Desc
	findings    *prometheus.Desc
	cacheHits   *prometheus.Desc
	cacheMisses *prometheus.Desc
	latency     *prometheus.Desc
	stored      *prometheus.Desc

	storedFindings func() int
}

var _ prometheus.Collector = (*PromCollector)(nil)

// NewPromCollector builds a Prometheus collector over source. storedFindings,
// when non-nil, reports the current size of the finding store.
func NewPromCollector(source *Collector, storedFindings func() int) *PromCollector {
	return &PromCollector{
		source:         source,
		storedFindings: storedFindings,
		scans:          prometheus.NewDesc("quell_scans_total", "Scanner invocations.", nil, nil),
		failed:         prometheus.NewDesc("quell_scans_failed_total", "Scans that produced no usable output.", nil, nil),
		partial:        prometheus.NewDesc("quell_scans_partial_total", "Scans recovered from a failing process.", nil, nil),
		findings:       prometheus.NewDesc("quell_findings_reported_total", "Findings reported across all scans.", nil, nil),
		cacheHits:      prometheus.NewDesc("quell_cache_hits_total", "Scan cache hits.", nil, nil),
		cacheMisses:    prometheus.NewDesc("quell_cache_misses_total", "Scan cache misses.", nil, nil),
		latency:        prometheus.NewDesc("quell_scan_duration_milliseconds", "Scan latency over the stats window.", []string{"quantile"}, nil),
		stored:         prometheus.NewDesc("quell_findings_current", "Findings currently held in the store.", nil, nil),
	}
}

func (p *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.scans
	ch <- p.failed
	ch <- p.partial
	ch <- p.findings
	ch <- p.cacheHits
	ch <- p.cacheMisses
	ch <- p.latency
	ch <- p.stored
}

func (p *PromCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.source.GetStats()
	ch <- prometheus.MustNewConstMetric(p.scans, prometheus.CounterValue, float64(s.TotalScans))
	ch <- prometheus.MustNewConstMetric(p.failed, prometheus.CounterValue, float64(s.FailedScans))
	ch <- prometheus.MustNewConstMetric(p.partial, prometheus.CounterValue, float64(s.PartialScans))
	ch <- prometheus.MustNewConstMetric(p.findings, prometheus.CounterValue, float64(s.TotalFindings))
	ch <- prometheus.MustNewConstMetric(p.cacheHits, prometheus.CounterValue, float64(s.CacheHits))
	ch <- prometheus.MustNewConstMetric(p.cacheMisses, prometheus.CounterValue, float64(s.CacheMisses))
	ch <- prometheus.MustNewConstMetric(p.latency, prometheus.GaugeValue, s.P50ScanDurationMs, "0.5")
	ch <- prometheus.MustNewConstMetric(p.latency, prometheus.GaugeValue, s.P95ScanDurationMs, "0.95")
	ch <- prometheus.MustNewConstMetric(p.latency, prometheus.GaugeValue, s.P99ScanDurationMs, "0.99")
	if p.storedFindings != nil {
		ch <- prometheus.MustNewConstMetric(p.stored, prometheus.GaugeValue, float64(p.storedFindings()))
	}
}
