package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Exporter handles exporting metrics to various formats
type Exporter struct {
	collector *Collector
}

// NewExporter creates a new metrics exporter
func NewExporter(collector *Collector) *Exporter {
	return &Exporter{collector: collector}
}

// ExportJSON writes stats and recent events to a JSON file
func (e *Exporter) ExportJSON(path string) error {
	report := struct {
		GeneratedAt time.Time      `json:"generated_at"`
		Stats       AggregateStats `json:"stats"`
		Events      []ScanEvent    `json:"events"`
	}{
		GeneratedAt: time.Now(),
		Stats:       e.collector.GetStats(),
		Events:      e.collector.GetRecentEvents(1000),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metrics: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// WriteReport writes a human-readable report to w
func (e *Exporter) WriteReport(w io.Writer) error {
	stats := e.collector.GetStats()

	fmt.Fprintf(w, "Quell Scan Metrics Report\n")
	fmt.Fprintf(w, "Window: %s to %s\n\n",
		stats.WindowStart.Format(time.RFC3339),
		stats.WindowEnd.Format(time.RFC3339))

	fmt.Fprintf(w, "=== Summary ===\n")
	fmt.Fprintf(w, "Total Scans:     %d\n", stats.TotalScans)
	fmt.Fprintf(w, "Failed Scans:    %d (%.1f%%)\n", stats.FailedScans, stats.FailureRate*100)
	fmt.Fprintf(w, "Partial Output:  %d\n", stats.PartialScans)
	fmt.Fprintf(w, "Total Findings:  %d\n", stats.TotalFindings)
	fmt.Fprintf(w, "Findings/Scan:   %.2f\n\n", stats.FindingsPerScan)

	fmt.Fprintf(w, "=== Latency ===\n")
	fmt.Fprintf(w, "Average:   %.0fms\n", stats.AvgScanDurationMs)
	fmt.Fprintf(w, "P50:       %.0fms\n", stats.P50ScanDurationMs)
	fmt.Fprintf(w, "P95:       %.0fms\n", stats.P95ScanDurationMs)
	fmt.Fprintf(w, "P99:       %.0fms\n", stats.P99ScanDurationMs)
	fmt.Fprintf(w, "Max:       %.0fms\n", stats.MaxScanDurationMs)
	fmt.Fprintf(w, "Avg Queue: %.0fms\n\n", stats.AvgQueueDurationMs)

	fmt.Fprintf(w, "=== Cache ===\n")
	fmt.Fprintf(w, "Hits:     %d\n", stats.CacheHits)
	fmt.Fprintf(w, "Misses:   %d\n", stats.CacheMisses)
	fmt.Fprintf(w, "Hit Rate: %.1f%%\n\n", stats.CacheHitRate*100)

	if len(stats.ByKind) > 0 {
		kinds := make([]string, 0, len(stats.ByKind))
		for k := range stats.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		fmt.Fprintf(w, "=== By Kind ===\n")
		for _, k := range kinds {
			ks := stats.ByKind[k]
			fmt.Fprintf(w, "%s:\n", k)
			fmt.Fprintf(w, "  Count:        %d\n", ks.Count)
			fmt.Fprintf(w, "  Avg Latency:  %.0fms\n", ks.AvgScanDurationMs)
			fmt.Fprintf(w, "  Failure Rate: %.1f%%\n", ks.FailureRate*100)
		}
	}
	return nil
}

// WriteCSV writes retained events in CSV format
func (e *Exporter) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{
		"id", "timestamp", "kind", "target",
		"queue_duration_ms", "scan_duration_ms", "total_duration_ms",
		"finding_count", "error_notes", "outcome", "cache_result", "scanner_version", "error",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, ev := range e.collector.GetRecentEvents(e.collector.maxEvents) {
		row := []string{
			ev.ID,
			ev.Timestamp.Format(time.RFC3339),
			string(ev.Kind),
			ev.Target,
			strconv.FormatInt(ev.QueueDuration.Milliseconds(), 10),
			strconv.FormatInt(ev.ScanDuration.Milliseconds(), 10),
			strconv.FormatInt(ev.TotalDuration.Milliseconds(), 10),
			strconv.Itoa(ev.FindingCount),
			strconv.Itoa(ev.ErrorNotes),
			string(ev.Outcome),
			string(ev.CacheResult),
			ev.ScannerVersion,
			ev.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
