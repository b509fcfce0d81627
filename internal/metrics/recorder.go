package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder provides a convenient API for recording scan metrics
type Recorder struct {
	collector *Collector
}

// NewRecorder creates a recorder that feeds collector
func NewRecorder(collector *Collector) *Recorder {
	return &Recorder{collector: collector}
}

// Collector returns the underlying collector
func (r *Recorder) Collector() *Collector {
	return r.collector
}

// ScanBuilder builds a ScanEvent incrementally
type ScanBuilder struct {
	recorder *Recorder
	event    ScanEvent
	timing   *ScanTiming
	mu       sync.Mutex
	done     bool
}

// StartScan begins recording a scan of target
func (r *Recorder) StartScan(kind ScanKind, target string) *ScanBuilder {
	return &ScanBuilder{
		recorder: r,
		event: ScanEvent{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			Kind:      kind,
			Target:    target,
			Outcome:   OutcomeOK,
		},
		timing: NewTiming(),
	}
}

// MarkStarted marks the scan as dequeued
func (b *ScanBuilder) MarkStarted() *ScanBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timing.Start()
	return b
}

func (b *ScanBuilder) WithCacheResult(result CacheResult) *ScanBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.event.CacheResult = result
	return b
}

func (b *ScanBuilder) WithScannerVersion(v string) *ScanBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.event.ScannerVersion = v
	return b
}

// Complete finishes recording and submits the event. Only the first call
// records.
func (b *ScanBuilder) Complete(outcome ScanOutcome, findingCount, errorNotes int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true

	if b.timing.startedAt.IsZero() {
		b.timing.Start()
	}
	b.timing.Complete()

	b.event.Outcome = outcome
	b.event.FindingCount = findingCount
	b.event.ErrorNotes = errorNotes
	if err != nil {
		b.event.Error = err.Error()
	}
	b.event.QueueDuration = b.timing.QueueDuration()
	b.event.ScanDuration = b.timing.ScanDuration()
	b.event.TotalDuration = b.timing.TotalDuration()

	b.recorder.collector.Record(b.event)
}

type contextKey string

const recorderContextKey contextKey = "metrics_recorder"

// WithRecorder adds a recorder to the context
func WithRecorder(ctx context.Context, recorder *Recorder) context.Context {
	return context.WithValue(ctx, recorderContextKey, recorder)
}

// RecorderFromContext retrieves a recorder from the context
func RecorderFromContext(ctx context.Context) *Recorder {
	if r, ok := ctx.Value(recorderContextKey).(*Recorder); ok {
		return r
	}
	return nil
}

// NoOpRecorder returns a recorder that keeps counters but no events
func NoOpRecorder() *Recorder {
	return &Recorder{collector: NewCollector(WithMaxEvents(0))}
}
