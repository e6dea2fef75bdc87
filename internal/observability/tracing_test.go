package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/signalsfoundry/ascent-controller/internal/config"
	"github.com/signalsfoundry/ascent-controller/internal/logging"
)

func resetTracing(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), config.Tracing{}, Flight{}, nil)
	})
}

func TestFlightFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.Provider.Kind = "FAKE"
	f := FlightFromConfig("m-7", cfg)
	want := Flight{MissionID: "m-7", TargetApoapsis: 80000, Provider: "fake"}
	if f != want {
		t.Fatalf("FlightFromConfig = %+v, want %+v", f, want)
	}
}

func TestInitTracingStdoutCarriesFlight(t *testing.T) {
	resetTracing(t)
	var buf bytes.Buffer
	ctx := context.Background()

	cfg := config.DefaultRuntime().Tracing
	cfg.Enabled = true
	shutdown, err := InitTracing(ctx, cfg, Flight{MissionID: "m-7", TargetApoapsis: 80000, Provider: "fake"}, logging.Noop(), WithSpanWriter(&buf))
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := otel.Tracer("test").Start(ctx, "phase/powered_ascent")
	span.End()
	ShutdownWithTimeout(ctx, shutdown, nil)

	out := buf.String()
	for _, want := range []string{"phase/powered_ascent", "mission.id", "m-7", "mission.target_apoapsis_m", "ascent-controller"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported spans missing %q:\n%s", want, out)
		}
	}
}

func TestInitTracingDisabledIgnoresExporter(t *testing.T) {
	resetTracing(t)
	shutdown, err := InitTracing(context.Background(), config.Tracing{Exporter: "zipkin"}, Flight{}, nil)
	if err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestInitTracingRejectsInvalidConfig(t *testing.T) {
	resetTracing(t)
	tests := []config.Tracing{
		{Enabled: true, Exporter: "zipkin", SampleRatio: 1},
		{Enabled: true, Exporter: "stdout", SampleRatio: 3},
	}
	for _, cfg := range tests {
		if _, err := InitTracing(context.Background(), cfg, Flight{}, nil); !errors.Is(err, config.ErrInvalid) {
			t.Fatalf("InitTracing(%+v) = %v, want ErrInvalid", cfg, err)
		}
	}
}
