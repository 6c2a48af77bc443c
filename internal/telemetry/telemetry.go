// Package telemetry installs the OpenTelemetry tracer provider.
//
// Tracing is opt-in: without an OTLP endpoint the global provider stays the
// no-op default and nothing leaves the device.
package telemetry

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kimhsiao/attendsync/internal/logging"
)

// Config selects where spans go.
type Config struct {
	// Endpoint is an OTLP/HTTP host:port or URL. Empty disables tracing.
	Endpoint    string
	Insecure    bool
	ServiceName string
	// DeviceID is attached to every span when set.
	DeviceID string
	// SampleRatio is the fraction of root spans sampled. Zero samples all.
	SampleRatio float64
	// Exporter replaces the OTLP exporter. It enables tracing on its own.
	Exporter sdktrace.SpanExporter
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// IsEnabled reports whether cfg enables tracing.
func IsEnabled(cfg Config) bool {
	return cfg.Endpoint != "" || cfg.Exporter != nil
}

// Setup installs a batching tracer provider as the global provider when cfg
// enables tracing. The returned function is never nil.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !IsEnabled(cfg) {
		return func(context.Context) error { return nil }, nil
	}

	exporter := cfg.Exporter
	if exporter == nil {
		var err error
		exporter, err = otlptracehttp.New(ctx, exporterOptions(cfg)...)
		if err != nil {
			return nil, err
		}
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", cfg.ServiceName)}
	if cfg.DeviceID != "" {
		attrs = append(attrs, attribute.String("device.id", cfg.DeviceID))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	logging.Info("Tracing enabled", map[string]interface{}{
		"endpoint": cfg.Endpoint,
		"service":  cfg.ServiceName,
	})
	return func(ctx context.Context) error {
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

func exporterOptions(cfg Config) []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	if strings.Contains(cfg.Endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}
