package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTiming_Durations(t *testing.T) {
	timing := NewTiming()
	if timing.QueueDuration() != 0 {
		t.Error("queue duration should be zero before start")
	}
	time.Sleep(5 * time.Millisecond)
	timing.Start()
	time.Sleep(5 * time.Millisecond)
	timing.Complete()

	if timing.QueueDuration() < 5*time.Millisecond {
		t.Errorf("queue duration too small: %v", timing.QueueDuration())
	}
	if timing.ScanDuration() < 5*time.Millisecond {
		t.Errorf("scan duration too small: %v", timing.ScanDuration())
	}
	if timing.TotalDuration() < timing.ScanDuration() {
		t.Error("total duration should include scan duration")
	}
}

func TestCollector_RecordAndStats(t *testing.T) {
	c := NewCollector()
	now := time.Now()
	c.Record(ScanEvent{Timestamp: now, Kind: ScanKindFile, FindingCount: 3, Outcome: OutcomeOK, CacheResult: CacheMiss, ScanDuration: 10 * time.Millisecond})
	c.Record(ScanEvent{Timestamp: now, Kind: ScanKindFile, FindingCount: 1, Outcome: OutcomePartialOutput, CacheResult: CacheHit, ScanDuration: 30 * time.Millisecond})
	c.Record(ScanEvent{Timestamp: now, Kind: ScanKindWorkspace, Outcome: OutcomeProcessFailure, ScanDuration: 20 * time.Millisecond})

	s := c.GetStats()
	if s.TotalScans != 3 {
		t.Errorf("expected 3 scans, got %d", s.TotalScans)
	}
	if s.FailedScans != 1 || s.PartialScans != 1 {
		t.Errorf("unexpected failed/partial: %d/%d", s.FailedScans, s.PartialScans)
	}
	if s.TotalFindings != 4 {
		t.Errorf("expected 4 findings, got %d", s.TotalFindings)
	}
	if s.CacheHitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", s.CacheHitRate)
	}
	if s.MaxScanDurationMs != 30 {
		t.Errorf("expected max 30ms, got %f", s.MaxScanDurationMs)
	}
	if s.P50ScanDurationMs != 20 {
		t.Errorf("expected p50 20ms, got %f", s.P50ScanDurationMs)
	}
	if ks := s.ByKind["workspace"]; ks == nil || ks.FailureRate != 1 {
		t.Errorf("unexpected workspace stats: %+v", ks)
	}
}

func TestCollector_PrunesOldEvents(t *testing.T) {
	c := NewCollector(WithMaxEvents(10))
	for i := 0; i < 25; i++ {
		c.Record(ScanEvent{Timestamp: time.Now()})
	}
	if n := len(c.GetRecentEvents(100)); n > 10 {
		t.Errorf("expected at most 10 retained events, got %d", n)
	}
	if c.GetStats().TotalScans != 25 {
		t.Error("counters should survive pruning")
	}
}

func TestCollector_ConcurrentRecord(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Record(ScanEvent{Timestamp: time.Now(), FindingCount: 1})
			}
		}()
	}
	wg.Wait()
	if got := c.GetStats().TotalFindings; got != 1000 {
		t.Errorf("expected 1000 findings, got %d", got)
	}
}

func TestRecorder_CompleteOnce(t *testing.T) {
	c := NewCollector()
	r := NewRecorder(c)

	b := r.StartScan(ScanKindFile, "a.py").MarkStarted().WithCacheResult(CacheMiss)
	b.Complete(OutcomeParseError, 0, 1, errors.New("bad json"))
	b.Complete(OutcomeOK, 5, 0, nil)

	events := c.GetRecentEvents(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Outcome != OutcomeParseError || events[0].Error != "bad json" {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[0].ID == "" {
		t.Error("event ID should be set")
	}
}

func TestRecorderContext(t *testing.T) {
	r := NoOpRecorder()
	ctx := WithRecorder(t.Context(), r)
	if RecorderFromContext(ctx) != r {
		t.Error("recorder not found in context")
	}
	if RecorderFromContext(t.Context()) != nil {
		t.Error("expected nil recorder for bare context")
	}
}

func TestExporter(t *testing.T) {
	c := NewCollector()
	c.Record(ScanEvent{ID: "e1", Timestamp: time.Now(), Kind: ScanKindFile, Target: "a,b.py", Outcome: OutcomeOK, FindingCount: 2})
	e := NewExporter(c)

	path := filepath.Join(t.TempDir(), "out", "metrics.json")
	if err := e.ExportJSON(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var report map[string]any
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if _, ok := report["stats"]; !ok {
		t.Error("report missing stats")
	}

	var buf bytes.Buffer
	if err := e.WriteReport(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Total Scans:     1") {
		t.Errorf("report missing totals:\n%s", buf.String())
	}

	buf.Reset()
	if err := e.WriteCSV(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"a,b.py"`) {
		t.Errorf("csv did not quote target:\n%s", buf.String())
	}
}

func TestPromCollector(t *testing.T) {
	c := NewCollector()
	c.Record(ScanEvent{Timestamp: time.Now(), Outcome: OutcomeOK, FindingCount: 4})
	c.Record(ScanEvent{Timestamp: time.Now(), Outcome: OutcomeParseError})

	pc := NewPromCollector(c, func() int { return 7 })
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(pc); err != nil {
		t.Fatal(err)
	}

	expected := `
# HELP quell_scans_total Scanner invocations.
# TYPE quell_scans_total counter
quell_scans_total 2
# HELP quell_scans_failed_total Scans that produced no usable output.
# TYPE quell_scans_failed_total counter
quell_scans_failed_total 1
# HELP quell_findings_current Findings currently held in the store.
# TYPE quell_findings_current gauge
quell_findings_current 7
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"quell_scans_total", "quell_scans_failed_total", "quell_findings_current"); err != nil {
		t.Error(err)
	}
}
