package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/ascent-controller/internal/config"
	"github.com/signalsfoundry/ascent-controller/internal/logging"
)

const tracingShutdownTimeout = 5 * time.Second

// Flight identifies the mission on every exported span.
type Flight struct {
	MissionID      string
	TargetApoapsis float64
	Provider       string
}

// FlightFromConfig fills Flight from the loaded configuration.
func FlightFromConfig(missionID string, cfg config.Config) Flight {
	return Flight{
		MissionID:      missionID,
		TargetApoapsis: cfg.Mission.TargetApoapsis,
		Provider:       strings.ToLower(cfg.Runtime.Provider.Kind),
	}
}

func (f Flight) attributes(service string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", "ascent"),
		attribute.String("mission.id", f.MissionID),
		attribute.Float64("mission.target_apoapsis_m", f.TargetApoapsis),
		attribute.String("vehicle.provider", f.Provider),
	}
}

// TracingOption customises InitTracing.
type TracingOption func(*tracingSetup)

type tracingSetup struct {
	out io.Writer
}

// WithSpanWriter sends stdout-exporter output to w instead of os.Stdout.
func WithSpanWriter(w io.Writer) TracingOption {
	return func(s *tracingSetup) {
		if w != nil {
			s.out = w
		}
	}
}

// InitTracing installs the global tracer provider for the flight. With
// tracing disabled a noop provider is installed so the controller's spans
// cost nothing. The returned function flushes pending spans.
func InitTracing(ctx context.Context, cfg config.Tracing, flight Flight, log logging.Logger, opts ...TracingOption) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	setup := tracingSetup{out: os.Stdout}
	for _, opt := range opts {
		opt(&setup)
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled", logging.String("mission_id", flight.MissionID))
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exp, err := spanExporter(ctx, cfg, setup.out)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(flight.attributes(cfg.ServiceName)...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("mission_id", flight.MissionID),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func spanExporter(ctx context.Context, cfg config.Tracing, out io.Writer) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout":
		return stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp":
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("%w: unsupported tracing exporter %q", config.ErrInvalid, cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans within a bounded time. Errors are only
// logged; the mission outcome is already decided.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, tracingShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
