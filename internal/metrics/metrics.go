package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ScanKind identifies what a scan covered
type ScanKind string

const (
	ScanKindFile      ScanKind = "file"
	ScanKindWorkspace ScanKind = "workspace"
)

// CacheResult indicates whether a cache lookup was a hit or miss
type CacheResult string

const (
	CacheHit      CacheResult = "hit"
	CacheMiss     CacheResult = "miss"
	CacheDisabled CacheResult = ""
)

// ScanOutcome classifies how the scanner process ended
type ScanOutcome string

const (
	OutcomeOK             ScanOutcome = "ok"
	OutcomePartialOutput  ScanOutcome = "partial_output"
	OutcomeProcessFailure ScanOutcome = "process_failure"
	OutcomeParseError     ScanOutcome = "parse_error"
	OutcomeRulesNotFound  ScanOutcome = "rules_not_found"
)

// ScanEvent captures metrics for a single scanner invocation
type ScanEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      ScanKind  `json:"kind"`
	Target    string    `json:"target"`

	QueueDuration time.Duration `json:"queue_duration"`
	ScanDuration  time.Duration `json:"scan_duration"`
	TotalDuration time.Duration `json:"total_duration"`

	FindingCount int         `json:"finding_count"`
	ErrorNotes   int         `json:"error_notes"`
	Outcome      ScanOutcome `json:"outcome"`
	CacheResult  CacheResult `json:"cache_result,omitempty"`

	ScannerVersion string `json:"scanner_version,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Failed reports whether the scan produced no usable output.
func (e ScanEvent) Failed() bool {
	return e.Outcome == OutcomeProcessFailure || e.Outcome == OutcomeParseError || e.Outcome == OutcomeRulesNotFound
}

// ScanTiming tracks queue and execution time for one scan
type ScanTiming struct {
	queuedAt    time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewTiming creates a new timing tracker, marking queue time as now
func NewTiming() *ScanTiming {
	return &ScanTiming{queuedAt: time.Now()}
}

func (t *ScanTiming) Start()    { t.startedAt = time.Now() }
func (t *ScanTiming) Complete() { t.completedAt = time.Now() }

func (t *ScanTiming) QueueDuration() time.Duration {
	if t.startedAt.IsZero() {
		return 0
	}
	return t.startedAt.Sub(t.queuedAt)
}

func (t *ScanTiming) ScanDuration() time.Duration {
	if t.completedAt.IsZero() || t.startedAt.IsZero() {
		return 0
	}
	return t.completedAt.Sub(t.startedAt)
}

func (t *ScanTiming) TotalDuration() time.Duration {
	if t.completedAt.IsZero() {
		return 0
	}
	return t.completedAt.Sub(t.queuedAt)
}

// AggregateStats holds computed aggregate statistics
type AggregateStats struct {
	TotalScans    int64 `json:"total_scans"`
	FailedScans   int64 `json:"failed_scans"`
	PartialScans  int64 `json:"partial_scans"`
	TotalFindings int64 `json:"total_findings"`

	AvgScanDurationMs  float64 `json:"avg_scan_duration_ms"`
	P50ScanDurationMs  float64 `json:"p50_scan_duration_ms"`
	P95ScanDurationMs  float64 `json:"p95_scan_duration_ms"`
	P99ScanDurationMs  float64 `json:"p99_scan_duration_ms"`
	MaxScanDurationMs  float64 `json:"max_scan_duration_ms"`
	AvgQueueDurationMs float64 `json:"avg_queue_duration_ms"`

	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	ScansPerMinute  float64 `json:"scans_per_minute"`
	FindingsPerScan float64 `json:"findings_per_scan"`
	FailureRate     float64 `json:"failure_rate"`

	ByKind map[string]*KindStats `json:"by_kind"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// KindStats holds stats for file or workspace scans
type KindStats struct {
	Count             int64   `json:"count"`
	AvgScanDurationMs float64 `json:"avg_scan_duration_ms"`
	FailureRate       float64 `json:"failure_rate"`
}

type atomicCounters struct {
	totalScans    atomic.Int64
	failedScans   atomic.Int64
	partialScans  atomic.Int64
	totalFindings atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
}

// Collector collects and stores scan metrics
type Collector struct {
	mu       sync.RWMutex
	events   []ScanEvent
	counters atomicCounters

	maxEvents  int
	windowSize time.Duration
	startTime  time.Time

	meterProvider metric.MeterProvider
	inst          *instruments
}

// CollectorOption configures a Collector
type CollectorOption func(*Collector)

// WithMaxEvents sets the maximum number of events to retain
func WithMaxEvents(n int) CollectorOption {
	return func(c *Collector) {
		c.maxEvents = n
	}
}

// WithWindowSize sets the time window for aggregate stats
func WithWindowSize(d time.Duration) CollectorOption {
	return func(c *Collector) {
		c.windowSize = d
	}
}

// NewCollector creates a new metrics collector
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		maxEvents:  10000,
		windowSize: time.Hour,
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.meterProvider == nil {
		c.meterProvider = otel.GetMeterProvider()
	}
	c.inst = newInstruments(c.meterProvider)
	return c
}

// Record adds a scan event to the collector
func (c *Collector) Record(event ScanEvent) {
	c.counters.totalScans.Add(1)
	c.counters.totalFindings.Add(int64(event.FindingCount))
	if event.Failed() {
		c.counters.failedScans.Add(1)
	}
	if event.Outcome == OutcomePartialOutput {
		c.counters.partialScans.Add(1)
	}
	switch event.CacheResult {
	case CacheHit:
		c.counters.cacheHits.Add(1)
	case CacheMiss:
		c.counters.cacheMisses.Add(1)
	}
	c.inst.record(event)

	if c.maxEvents <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	if len(c.events) > c.maxEvents {
		// drop the oldest 10%, at least one
		prune := c.maxEvents / 10
		if prune == 0 {
			prune = 1
		}
		c.events = append([]ScanEvent(nil), c.events[prune:]...)
	}
}

// GetStats computes aggregate statistics from collected events
func (c *Collector) GetStats() AggregateStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	windowStart := now.Add(-c.windowSize)

	stats := AggregateStats{
		TotalScans:    c.counters.totalScans.Load(),
		FailedScans:   c.counters.failedScans.Load(),
		PartialScans:  c.counters.partialScans.Load(),
		TotalFindings: c.counters.totalFindings.Load(),
		CacheHits:     c.counters.cacheHits.Load(),
		CacheMisses:   c.counters.cacheMisses.Load(),
		ByKind:        make(map[string]*KindStats),
		WindowStart:   windowStart,
		WindowEnd:     now,
	}

	if ops := stats.CacheHits + stats.CacheMisses; ops > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(ops)
	}
	if stats.TotalScans > 0 {
		stats.FindingsPerScan = float64(stats.TotalFindings) / float64(stats.TotalScans)
		stats.FailureRate = float64(stats.FailedScans) / float64(stats.TotalScans)
	}
	if elapsed := now.Sub(c.startTime).Minutes(); elapsed > 0 {
		stats.ScansPerMinute = float64(stats.TotalScans) / elapsed
	}

	var window []ScanEvent
	for _, e := range c.events {
		if e.Timestamp.After(windowStart) {
			window = append(window, e)
		}
	}
	if len(window) == 0 {
		return stats
	}

	durations := make([]float64, 0, len(window))
	var sumScan, sumQueue float64
	kindCounts := make(map[ScanKind]int64)
	kindDurations := make(map[ScanKind]float64)
	kindFailures := make(map[ScanKind]int64)
	for _, e := range window {
		ms := float64(e.ScanDuration.Milliseconds())
		durations = append(durations, ms)
		sumScan += ms
		sumQueue += float64(e.QueueDuration.Milliseconds())
		kindCounts[e.Kind]++
		kindDurations[e.Kind] += ms
		if e.Failed() {
			kindFailures[e.Kind]++
		}
	}

	n := float64(len(window))
	stats.AvgScanDurationMs = sumScan / n
	stats.AvgQueueDurationMs = sumQueue / n

	sort.Float64s(durations)
	stats.P50ScanDurationMs = percentile(durations, 0.50)
	stats.P95ScanDurationMs = percentile(durations, 0.95)
	stats.P99ScanDurationMs = percentile(durations, 0.99)
	stats.MaxScanDurationMs = durations[len(durations)-1]

	for kind, count := range kindCounts {
		stats.ByKind[string(kind)] = &KindStats{
			Count:             count,
			AvgScanDurationMs: kindDurations[kind] / float64(count),
			FailureRate:       float64(kindFailures[kind]) / float64(count),
		}
	}
	return stats
}

// GetRecentEvents returns the most recent n events
func (c *Collector) GetRecentEvents(n int) []ScanEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n > len(c.events) {
		n = len(c.events)
	}
	if n <= 0 {
		return nil
	}
	out := make([]ScanEvent, n)
	copy(out, c.events[len(c.events)-n:])
	return out
}

// Reset clears all collected metrics
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.counters.totalScans.Store(0)
	c.counters.failedScans.Store(0)
	c.counters.partialScans.Store(0)
	c.counters.totalFindings.Store(0)
	c.counters.cacheHits.Store(0)
	c.counters.cacheMisses.Store(0)
	c.startTime = time.Now()
}

// percentile returns the value at p (0.0-1.0) of an ascending slice
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}
