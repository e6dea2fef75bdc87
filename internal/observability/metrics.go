package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/ascent-controller/internal/maneuver"
	"github.com/signalsfoundry/ascent-controller/internal/mission"
	"github.com/signalsfoundry/ascent-controller/internal/telemetry"
)

// MissionCollector bundles Prometheus metrics for a mission. It implements
// mission.Observer and telemetry.MetricsRecorder so the controller drives
// it directly. All methods are safe on a nil receiver.
type MissionCollector struct {
	gatherer prometheus.Gatherer

	Phase            prometheus.Gauge
	PhaseTransitions *prometheus.CounterVec
	PhaseDurations   *prometheus.HistogramVec
	Triggers         *prometheus.CounterVec
	AttitudeCommands prometheus.Counter
	Failures         *prometheus.CounterVec

	Altitude         prometheus.Gauge
	Apoapsis         prometheus.Gauge
	Speed            prometheus.Gauge
	Mass             prometheus.Gauge
	BoosterRemaining prometheus.Gauge
	SamplesPolled    prometheus.Counter
	SamplesRecorded  prometheus.Counter

	BurnDeltaV prometheus.Gauge
	BurnTime   prometheus.Gauge

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

var (
	_ mission.Observer          = (*MissionCollector)(nil)
	_ telemetry.MetricsRecorder = (*MissionCollector)(nil)
)

// NewMissionCollector registers mission metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewMissionCollector(reg prometheus.Registerer) (*MissionCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &MissionCollector{gatherer: gatherer}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.Phase, "mission_phase", "Current mission phase, as its ordinal."},
		{&c.Altitude, "vehicle_altitude_meters", "Mean altitude of the last polled sample."},
		{&c.Apoapsis, "vehicle_apoapsis_meters", "Apoapsis altitude of the last polled sample."},
		{&c.Speed, "vehicle_speed_meters_per_second", "Speed of the last polled sample."},
		{&c.Mass, "vehicle_mass_kilograms", "Vehicle mass of the last polled sample."},
		{&c.BoosterRemaining, "booster_resource_remaining", "Booster stage resource amount of the last polled sample."},
		{&c.BurnDeltaV, "burn_delta_v_meters_per_second", "Planned circularization delta-v."},
		{&c.BurnTime, "burn_time_seconds", "Planned circularization burn time."},
	}
	for _, g := range gauges {
		gauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
		*g.dst = gauge
	}

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.AttitudeCommands, "mission_attitude_commands_total", "Gravity-turn attitude commands issued."},
		{&c.SamplesPolled, "telemetry_samples_polled_total", "Telemetry samples polled from the provider."},
		{&c.SamplesRecorded, "telemetry_samples_recorded_total", "Telemetry samples kept in the history after decimation."},
	}
	for _, ct := range counters {
		counter, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: ct.name, Help: ct.help}), ct.name)
		if err != nil {
			return nil, err
		}
		*ct.dst = counter
	}

	var err error
	c.PhaseTransitions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_phase_transitions_total",
		Help: "Mission phase transitions, labeled by source and destination phase.",
	}, []string{"from", "to"}), "mission_phase_transitions_total")
	if err != nil {
		return nil, err
	}
	c.Triggers, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_triggers_total",
		Help: "Event triggers fired, labeled by trigger.",
	}, []string{"trigger"}), "mission_triggers_total")
	if err != nil {
		return nil, err
	}
	c.Failures, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_failures_total",
		Help: "Aborted missions, labeled by failure kind.",
	}, []string{"kind"}), "mission_failures_total")
	if err != nil {
		return nil, err
	}
	c.PhaseDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mission_phase_duration_seconds",
		Help:    "Time spent in each mission phase, in provider-clock seconds.",
		Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"phase"}), "mission_phase_duration_seconds")
	if err != nil {
		return nil, err
	}

	c.RPCRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "status_requests_total",
		Help: "Total number of handled status RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "status_requests_total")
	if err != nil {
		return nil, err
	}
	c.RPCDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "status_request_duration_seconds",
		Help:    "Status RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "status_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *MissionCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// PhaseChanged implements mission.Observer.
func (c *MissionCollector) PhaseChanged(_ context.Context, from, to mission.Phase, spent time.Duration) {
	if c == nil {
		return
	}
	c.Phase.Set(float64(to))
	c.PhaseTransitions.WithLabelValues(from.String(), to.String()).Inc()
	c.PhaseDurations.WithLabelValues(from.String()).Observe(spent.Seconds())
}

// TriggerFired implements mission.Observer.
func (c *MissionCollector) TriggerFired(_ context.Context, name string, _ telemetry.Sample) {
	if c == nil {
		return
	}
	c.Triggers.WithLabelValues(name).Inc()
}

// AttitudeCommanded implements mission.Observer.
func (c *MissionCollector) AttitudeCommanded(context.Context, float64, float64) {
	if c == nil {
		return
	}
	c.AttitudeCommands.Inc()
}

// BurnPlanned implements mission.Observer.
func (c *MissionCollector) BurnPlanned(_ context.Context, plan maneuver.BurnPlan) {
	if c == nil {
		return
	}
	c.BurnDeltaV.Set(plan.DeltaV)
	c.BurnTime.Set(plan.BurnTime)
}

// MissionFailed implements mission.Observer.
func (c *MissionCollector) MissionFailed(_ context.Context, kind string, _ error) {
	if c == nil {
		return
	}
	c.Failures.WithLabelValues(kind).Inc()
}

// ObserveSample implements telemetry.MetricsRecorder.
func (c *MissionCollector) ObserveSample(s telemetry.Sample) {
	if c == nil {
		return
	}
	c.Altitude.Set(s.Altitude)
	c.Apoapsis.Set(s.Apoapsis)
	c.Speed.Set(s.Speed)
	c.Mass.Set(s.Mass)
	c.BoosterRemaining.Set(s.ResourceRemaining)
	c.SamplesPolled.Inc()
}

// IncSamplesRecorded implements telemetry.MetricsRecorder.
func (c *MissionCollector) IncSamplesRecorded() {
	if c == nil {
		return
	}
	c.SamplesRecorded.Inc()
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *MissionCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *MissionCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components, returning "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
