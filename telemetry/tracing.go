package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const exportTimeout = 10 * time.Second

type otlpTarget struct {
	protocol string // "grpc" or "http"
	endpoint string // host:port
	path     string
	insecure bool
}

type otelErrorHandler struct {
	logger *slog.Logger
}

func (h otelErrorHandler) Handle(err error) {
	if err != nil {
		h.logger.Warn("telemetry.exporter_error", "error", err)
	}
}

// SetupTracing installs a global tracer provider exporting to endpoint over OTLP, and the
// W3C propagator. endpoint is host:port (gRPC) or a grpc://, grpcs://, http:// or https:// URL.
// An empty endpoint leaves tracing disabled and returns a no-op shutdown.
func SetupTracing(ctx context.Context, endpoint, service string, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if strings.TrimSpace(endpoint) == "" {
		return func(context.Context) error { return nil }, nil
	}

	target, err := resolveOTLPTarget(endpoint)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceName(service)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch target.protocol {
	case "grpc":
		exporter, err = grpcExporter(ctx, target)
	default:
		exporter, err = httpExporter(ctx, target)
	}

	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(NewPropagator().TextMap())
	otel.SetErrorHandler(otelErrorHandler{logger: logger})

	logger.Info("telemetry.tracing_enabled",
		"protocol", target.protocol,
		"endpoint", target.endpoint,
		"insecure", target.insecure,
	)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("trace shutdown: %w", err)
		}

		return nil
	}, nil
}

func grpcExporter(ctx context.Context, target otlpTarget) (sdktrace.SpanExporter, error) { //nolint:ireturn
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(target.endpoint),
		otlptracegrpc.WithTimeout(exportTimeout),
	}

	if target.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter (grpc): %w", err)
	}

	return exp, nil
}

func httpExporter(ctx context.Context, target otlpTarget) (sdktrace.SpanExporter, error) { //nolint:ireturn
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(target.endpoint),
		otlptracehttp.WithTimeout(exportTimeout),
	}

	if target.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	if target.path != "" && target.path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(target.path))
	}

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter (http): %w", err)
	}

	return exp, nil
}

func resolveOTLPTarget(raw string) (otlpTarget, error) {
	if !strings.Contains(raw, "://") {
		endpoint := raw
		if !strings.Contains(endpoint, ":") {
			endpoint = net.JoinHostPort(endpoint, "4317")
		}

		return otlpTarget{protocol: "grpc", endpoint: endpoint, insecure: true}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return otlpTarget{}, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}

	target := otlpTarget{endpoint: u.Host, path: strings.TrimSuffix(u.Path, "/")}
	defaultPort := "4318"

	switch strings.ToLower(u.Scheme) {
	case "grpc":
		target.protocol, target.insecure, defaultPort = "grpc", true, "4317"
	case "grpcs":
		target.protocol, defaultPort = "grpc", "4317"
	case "http":
		target.protocol, target.insecure = "http", true
	case "https":
		target.protocol = "http"
	default:
		return otlpTarget{}, fmt.Errorf("telemetry: unknown scheme %q", u.Scheme)
	}

	if target.endpoint == "" {
		return otlpTarget{}, errors.New("telemetry: missing endpoint host")
	}

	if u.Port() == "" {
		target.endpoint = net.JoinHostPort(u.Hostname(), defaultPort)
	}

	return target, nil
}
