package server

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/n9te9/go-graphql-fusion-gateway/gateway"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// SetupTracing installs a global tracer provider exporting over OTLP/HTTP.
// The returned provider must be shut down to flush pending spans.
func SetupTracing(ctx context.Context, serviceName string, setting gateway.OpentelemetryTracingSetting, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	r, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
		resource.WithProcessPID(),
		resource.WithFromEnv(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing resource: %w", err)
	}

	u, err := url.Parse(setting.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OpenTelemetry endpoint: %w", err)
	}

	exporterOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(u.Host),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if u.Scheme != "https" {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	if setting.Path != "" {
		exporterOpts = append(exporterOpts, otlptracehttp.WithURLPath(setting.Path))
	}

	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(setting.Sampler))),
		sdktrace.WithResource(r),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(10*time.Second),
			sdktrace.WithExportTimeout(30*time.Second),
		),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Error("otel error", zap.Error(err))
	}))

	logger.Info("trace exporter started", zap.String("url", setting.Endpoint+setting.Path))
	return tp, nil
}
