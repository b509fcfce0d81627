package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/chris-regnier/quell/internal/metrics"

// instruments mirrors recorded scan events into OpenTelemetry metrics.
type instruments struct {
	scans    metric.Int64Counter
	findings metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider) *instruments {
	meter := mp.Meter(meterName)
	inst := &instruments{}
	var err error
	if inst.scans, err = meter.Int64Counter("quell.scans",
		metric.WithDescription("Scanner invocations by kind and outcome"),
		metric.WithUnit("{scan}")); err != nil {
		otel.Handle(err)
	}
	if inst.findings, err = meter.Int64Counter("quell.findings",
		metric.WithDescription("Findings reported by the scanner"),
		metric.WithUnit("{finding}")); err != nil {
		otel.Handle(err)
	}
	if inst.duration, err = meter.Float64Histogram("quell.scan.duration",
		metric.WithDescription("Time spent running the scanner"),
		metric.WithUnit("s")); err != nil {
		otel.Handle(err)
	}
	return inst
}

func (i *instruments) record(e ScanEvent) {
	if i == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("quell.scan.kind", string(e.Kind)),
		attribute.String("quell.scan.outcome", string(e.Outcome)),
	)
	if i.scans != nil {
		i.scans.Add(ctx, 1, attrs)
	}
	if i.findings != nil {
		i.findings.Add(ctx, int64(e.FindingCount), attrs)
	}
	if i.duration != nil {
		i.duration.Record(ctx, e.ScanDuration.Seconds(), attrs)
	}
}

// WithMeterProvider mirrors events into mp. NewCollector uses the global
// provider otherwise, so call it after telemetry is initialized.
func WithMeterProvider(mp metric.MeterProvider) CollectorOption {
	return func(c *Collector) { c.meterProvider = mp }
}
