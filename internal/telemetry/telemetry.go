// Package telemetry wires OpenTelemetry tracing and metrics export for the
// quell processes (CLI runs, language server, HTTP API).
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"github.com/chris-regnier/quell/internal/config"
)

// EnvEnabled overrides telemetry.enabled from every config tier.
const EnvEnabled = "QUELL_TELEMETRY_ENABLED"

// Shutdown flushes and stops the providers installed by Init.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Enabled reports whether telemetry should run for cfg once the
// environment override is applied.
func Enabled(cfg config.TelemetryConfig) bool {
	if v := os.Getenv(EnvEnabled); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return cfg.Enabled
}

// Init installs global tracer and meter providers exporting over OTLP and
// returns their shutdown. When telemetry is disabled it installs nothing and
// returns a no-op.
func Init(ctx context.Context, cfg config.TelemetryConfig) (Shutdown, error) {
	if !Enabled(cfg) {
		return noop, nil
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		))
	if err != nil {
		return noop, err
	}

	exp, err := newExporters(ctx, cfg)
	if err != nil {
		return noop, err
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp.spans),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(rate))),
	)
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exp.metrics)),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

type exporters struct {
	spans   trace.SpanExporter
	metrics metric.Exporter
}

// newExporters builds the span and metric exporters for cfg.Protocol. If the
// second one fails the first is shut down before returning.
func newExporters(ctx context.Context, cfg config.TelemetryConfig) (*exporters, error) {
	var (
		exp exporters
		err error
	)
	switch cfg.Protocol {
	case "http":
		exp.spans, err = otlptracehttp.New(ctx, httpTraceOptions(cfg)...)
		if err == nil {
			exp.metrics, err = otlpmetrichttp.New(ctx, httpMetricOptions(cfg)...)
		}
	case "grpc", "":
		exp.spans, err = otlptracegrpc.New(ctx, grpcTraceOptions(cfg)...)
		if err == nil {
			exp.metrics, err = otlpmetricgrpc.New(ctx, grpcMetricOptions(cfg)...)
		}
	default:
		return nil, fmt.Errorf("unknown telemetry protocol %q", cfg.Protocol)
	}
	if err != nil {
		if exp.spans != nil {
			err = errors.Join(err, exp.spans.Shutdown(ctx))
		}
		return nil, err
	}
	return &exp, nil
}

func grpcTraceOptions(cfg config.TelemetryConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return opts
}

func grpcMetricOptions(cfg config.TelemetryConfig) []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
	}
	return opts
}

func httpTraceOptions(cfg config.TelemetryConfig) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return opts
}

func httpMetricOptions(cfg config.TelemetryConfig) []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
	}
	return opts
}
