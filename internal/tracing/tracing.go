// Package tracing exports the spans of batch runs to an OTLP collector.
package tracing

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	ServiceName string
	// Version defaults to the main module version of the binary.
	Version string
	// Endpoint is host:port of an OTLP HTTP collector. Empty keeps the no-op provider.
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// DefaultConfig samples every root span and talks plain HTTP to the collector.
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName: serviceName,
		Version:     buildVersion(),
		Insecure:    true,
		SampleRatio: 1,
	}
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// Setup installs the global tracer provider and returns its shutdown function.
func Setup(ctx context.Context, cfg Config, logger *zap.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		logger.Debug("Tracing disabled, no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: exporter for %s: %w", cfg.Endpoint, err)
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		))
	if err != nil {
		return nil, fmt.Errorf("tracing: resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("Exporting traces",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("service", cfg.ServiceName),
		zap.String("version", cfg.Version))
	return provider.Shutdown, nil
}

// Shutdown flushes buffered spans, waiting at most shutdownTimeout.
func Shutdown(shutdown func(context.Context) error, logger *zap.Logger) error {
	if shutdown == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := shutdown(ctx)
	if err != nil && logger != nil {
		logger.Warn("Failed to flush traces", zap.Error(err))
	}
	return err
}
