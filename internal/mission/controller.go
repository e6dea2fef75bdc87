// Package mission flies the ascent and orbital insertion as a forward-only
// phase machine: gravity turn and staging from live telemetry, then the
// circularization burn at apoapsis.
package mission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/ascent-controller/internal/config"
	"github.com/signalsfoundry/ascent-controller/internal/guidance"
	"github.com/signalsfoundry/ascent-controller/internal/logging"
	"github.com/signalsfoundry/ascent-controller/internal/maneuver"
	"github.com/signalsfoundry/ascent-controller/internal/telemetry"
	"github.com/signalsfoundry/ascent-controller/internal/trigger"
	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
	"github.com/signalsfoundry/ascent-controller/timectrl"
)

const tracerName = "github.com/signalsfoundry/ascent-controller/internal/mission"

// Status is a point-in-time snapshot of the mission.
type Status struct {
	MissionID         string             `json:"missionId"`
	Phase             Phase              `json:"phase"`
	Pitch             float64            `json:"pitch"`
	Heading           float64            `json:"heading"`
	Throttle          float64            `json:"throttle"`
	AttitudeCommands  int                `json:"attitudeCommands"`
	StageActivations  int                `json:"stageActivations"`
	BoostersSeparated bool               `json:"boostersSeparated"`
	FairingSeparated  bool               `json:"fairingSeparated"`
	PayloadDeployed   bool               `json:"payloadDeployed"`
	LastSample        *telemetry.Sample  `json:"lastSample,omitempty"`
	Plan              *maneuver.BurnPlan `json:"plan,omitempty"`
	RemainingBurn     *float64           `json:"remainingBurn,omitempty"`
	Failure           string             `json:"failure,omitempty"`
	Error             string             `json:"error,omitempty"`
}

func (s Status) clone() Status {
	out := s
	if s.LastSample != nil {
		v := *s.LastSample
		out.LastSample = &v
	}
	if s.Plan != nil {
		v := *s.Plan
		out.Plan = &v
	}
	if s.RemainingBurn != nil {
		v := *s.RemainingBurn
		out.RemainingBurn = &v
	}
	return out
}

// Controller owns every actuation command of a mission. Run is synchronous;
// Status and History are safe to call from other goroutines.
type Controller struct {
	provider vehicle.Provider
	mission  config.Mission
	runtime  config.Runtime

	clock         timectrl.Clock
	logger        logging.Logger
	observer      Observer
	sampleMetrics telemetry.MetricsRecorder
	tracer        trace.Tracer

	history  *telemetry.History
	triggers *trigger.State
	tracker  *guidance.Tracker
	sampler  *telemetry.Sampler

	missionCtx context.Context
	phaseSpan  trace.Span
	phaseStart time.Time

	mu     sync.RWMutex
	status Status
	ran    bool
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock sets the clock used for waits. Defaults to the wall clock.
func WithClock(clock timectrl.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers a mission event observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithSampleMetrics attaches a telemetry metrics sink.
func WithSampleMetrics(m telemetry.MetricsRecorder) Option {
	return func(c *Controller) { c.sampleMetrics = m }
}

// WithMissionID fixes the mission identifier instead of generating one.
func WithMissionID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.status.MissionID = id
		}
	}
}

// NewController builds a controller for one mission. The configuration is
// copied and never changes afterwards.
func NewController(p vehicle.Provider, cfg config.Config, opts ...Option) *Controller {
	c := &Controller{
		mission:  cfg.Mission,
		runtime:  cfg.Runtime,
		clock:    timectrl.WallClock{},
		logger:   logging.Noop(),
		history:  telemetry.NewHistory(),
		triggers: trigger.NewState(),
		tracker: guidance.NewTracker(
			guidance.GravityTurn{TurnStart: cfg.Mission.TurnStartAltitude, TurnEnd: cfg.Mission.TurnEndAltitude},
			cfg.Mission.TurnHysteresis,
			cfg.Mission.Heading,
		),
		tracer: otel.Tracer(tracerName),
		status: Status{Phase: PreLaunch, Heading: cfg.Mission.Heading, Pitch: 90},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.status.MissionID == "" {
		_, c.status.MissionID = logging.EnsureMissionID(context.Background())
	}
	if c.observer == nil {
		c.observer = Observers()
	}
	c.provider = &actuator{Provider: p, c: c}
	return c
}

// MissionID returns the mission identifier.
func (c *Controller) MissionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.MissionID
}

// Status returns a snapshot of the mission.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.status.clone()
	st.BoostersSeparated = c.triggers.BoostersSeparated()
	return st
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Phase
}

// History returns the recorded telemetry history.
func (c *Controller) History() *telemetry.History { return c.history }

// Run flies the mission to completion. Any error is terminal: the mission
// moves to Aborted, the failure is recorded in Status and no further
// commands are sent.
func (c *Controller) Run(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return fmt.Errorf("%w: mission %s already ran", ErrInvalidTransition, c.status.MissionID)
	}
	c.ran = true
	c.mu.Unlock()

	ctx = logging.ContextWithMissionID(ctx, c.MissionID())
	ctx, c.logger = logging.WithMissionLogger(ctx, c.logger)
	ctx = logging.ContextWithLogger(ctx, c.logger)

	ctx, span := c.tracer.Start(ctx, "mission", trace.WithAttributes(
		attribute.String("mission_id", c.MissionID()),
		attribute.Float64("target_apoapsis", c.mission.TargetApoapsis),
	))
	defer span.End()
	c.missionCtx = ctx
	c.startPhaseSpan(PreLaunch)

	defer func() {
		if err != nil {
			c.fail(ctx, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, FailureKind(err))
		}
		if c.phaseSpan != nil {
			c.phaseSpan.End()
		}
	}()

	rec := telemetry.NewRecorder(c.mission.RecordInterval, c.history)
	var samplerOpts []telemetry.Option
	if c.sampleMetrics != nil {
		samplerOpts = append(samplerOpts, telemetry.WithMetricsRecorder(c.sampleMetrics))
	}
	c.sampler, err = telemetry.NewSampler(ctx, c.provider, c.mission.BoosterStage, c.mission.BoosterResource, rec, samplerOpts...)
	if err != nil {
		return err
	}

	steps := []func(context.Context) error{
		c.preLaunch,
		c.ascend,
		c.approachApoapsis,
		c.fineTuneApoapsis,
		c.exitAtmosphere,
		c.circularize,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	c.logger.Info(ctx, "Launch complete", logging.Any("summary", c.history.Summarize()))
	return nil
}

func (c *Controller) preLaunch(ctx context.Context) error {
	if err := c.provider.SetSAS(ctx, false); err != nil {
		return err
	}
	if err := c.provider.SetThrottle(ctx, 1.0); err != nil {
		return err
	}
	for n := c.mission.CountdownSteps; n > 0; n-- {
		c.logger.Info(ctx, fmt.Sprintf("%d...", n))
		if err := c.clock.Sleep(ctx, c.mission.CountdownStepDuration()); err != nil {
			return err
		}
	}
	c.logger.Info(ctx, "Launch!")
	// Ignition, then clamp release.
	for i := 0; i < 2; i++ {
		if err := c.provider.ActivateNextStage(ctx); err != nil {
			return err
		}
	}

	if err := c.transition(ctx, PoweredAscent); err != nil {
		return err
	}
	if err := c.provider.EngageAutopilot(ctx); err != nil {
		return err
	}
	cmd := c.tracker.Current()
	return c.provider.SetPitchAndHeading(ctx, cmd.Pitch, cmd.Heading)
}

// ascend flies the gravity turn through booster separation until the
// apoapsis is close to the target.
func (c *Controller) ascend(ctx context.Context) error {
	err := c.await(ctx, "main engine cutoff", c.runtime.Timeouts.Ascent, func(ctx context.Context, s telemetry.Sample) (bool, error) {
		if cmd, changed := c.tracker.Update(s.Altitude); changed {
			if err := c.provider.SetPitchAndHeading(ctx, cmd.Pitch, cmd.Heading); err != nil {
				return false, err
			}
			c.observer.AttitudeCommanded(ctx, cmd.Pitch, cmd.Heading)
		}

		if c.Phase() == PoweredAscent && c.triggers.Evaluate(trigger.BoosterSeparation, s, c.mission) {
			c.fired(ctx, trigger.BoosterSeparation, s)
			if err := c.provider.ActivateNextStage(ctx); err != nil {
				return false, err
			}
			c.logger.Info(ctx, "SRBs separated")
			if err := c.transition(ctx, BoosterCoast); err != nil {
				return false, err
			}
		}

		if !c.triggers.Evaluate(trigger.MainEngineCutoff, s, c.mission) {
			return false, nil
		}
		c.fired(ctx, trigger.MainEngineCutoff, s)
		if c.Phase() == PoweredAscent {
			c.logger.Warn(ctx, "apoapsis cutoff reached before booster separation; skipping booster coast",
				logging.Float("apoapsis", s.Apoapsis))
		}
		return true, c.provider.SetThrottle(ctx, 0)
	})
	if err != nil {
		return err
	}
	return c.transition(ctx, ApoapsisApproach)
}

func (c *Controller) approachApoapsis(ctx context.Context) error {
	c.logger.Info(ctx, "Approaching target apoapsis")
	if err := c.provider.SetThrottle(ctx, c.mission.FineThrottle); err != nil {
		return err
	}
	return c.transition(ctx, ApoapsisFineTune)
}

func (c *Controller) fineTuneApoapsis(ctx context.Context) error {
	err := c.await(ctx, "target apoapsis", c.runtime.Timeouts.Ascent, func(ctx context.Context, s telemetry.Sample) (bool, error) {
		if !c.triggers.Evaluate(trigger.ApoapsisReached, s, c.mission) {
			return false, nil
		}
		c.fired(ctx, trigger.ApoapsisReached, s)
		return true, nil
	})
	if err != nil {
		return err
	}
	c.logger.Info(ctx, "Target apoapsis reached")
	if err := c.provider.SetThrottle(ctx, 0); err != nil {
		return err
	}
	// Fairing / heat shield.
	if err := c.provider.ActivateNextStage(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.status.FairingSeparated = true
	c.mu.Unlock()
	return c.transition(ctx, AtmosphereExit)
}

func (c *Controller) exitAtmosphere(ctx context.Context) error {
	c.logger.Info(ctx, "Coasting out of atmosphere")
	err := c.await(ctx, "atmosphere exit", c.runtime.Timeouts.Coast, func(ctx context.Context, s telemetry.Sample) (bool, error) {
		if !c.triggers.Evaluate(trigger.AtmosphereExit, s, c.mission) {
			return false, nil
		}
		c.fired(ctx, trigger.AtmosphereExit, s)
		return true, nil
	})
	if err != nil {
		return err
	}
	return c.transition(ctx, ManeuverPlanning)
}

var stepPhases = map[maneuver.Step]Phase{
	maneuver.StepOrienting:  Orienting,
	maneuver.StepWarpToBurn: WarpToBurn,
	maneuver.StepBurning:    Burning,
	maneuver.StepFineTrim:   FineTrim,
	maneuver.StepDeployed:   Deployed,
}

// circularize plans the burn from a fresh snapshot and hands it to the
// executor. The plan is not revised after later staging.
func (c *Controller) circularize(ctx context.Context) error {
	c.logger.Info(ctx, "Planning circularization burn")
	orbit, err := c.provider.Orbit(ctx)
	if err != nil {
		return vehicle.TelemetryError("orbit", err)
	}
	prop, err := c.provider.Propulsion(ctx)
	if err != nil {
		return vehicle.TelemetryError("propulsion", err)
	}
	now, err := c.provider.Read(ctx, vehicle.ScalarUT)
	if err != nil {
		return vehicle.TelemetryError(vehicle.ScalarUT.String(), err)
	}
	plan, err := maneuver.Plan(orbit, prop, now, c.mission.StandardGravity)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.status.Plan = &plan
	c.mu.Unlock()
	c.observer.BurnPlanned(ctx, plan)

	exec := maneuver.NewExecutor(c.provider, c.clock, c.mission,
		maneuver.Timing{
			Poll:       c.runtime.PollInterval,
			Attitude:   c.runtime.Timeouts.Attitude,
			BurnWindow: c.runtime.Timeouts.BurnWindow,
		},
		maneuver.WithSampler(statusSampler{c}),
		maneuver.WithLogger(c.logger),
		maneuver.WithStepHandler(func(ctx context.Context, step maneuver.Step) error {
			phase, ok := stepPhases[step]
			if !ok {
				return fmt.Errorf("%w: unknown executor step %s", ErrInvalidTransition, step)
			}
			if step == maneuver.StepDeployed {
				c.mu.Lock()
				c.status.PayloadDeployed = true
				c.mu.Unlock()
			}
			return c.transition(ctx, phase)
		}),
	)
	res, err := exec.Execute(ctx, plan)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.status.RemainingBurn = &res.RemainingBurn
	c.mu.Unlock()
	return c.transition(ctx, Complete)
}

// await ticks the sampler before every evaluation of cond.
func (c *Controller) await(ctx context.Context, name string, timeout time.Duration, cond func(context.Context, telemetry.Sample) (bool, error)) error {
	opts := timectrl.AwaitOptions{Poll: c.runtime.PollInterval, Timeout: timeout, Name: name}
	return timectrl.Await(ctx, c.clock, opts, func(ctx context.Context) (bool, error) {
		s, err := c.tick(ctx)
		if err != nil {
			return false, err
		}
		return cond(ctx, s)
	})
}

func (c *Controller) tick(ctx context.Context) (telemetry.Sample, error) {
	s, err := c.sampler.Tick(ctx)
	if err != nil {
		return telemetry.Sample{}, err
	}
	c.mu.Lock()
	c.status.LastSample = &s
	c.mu.Unlock()
	return s, nil
}

type statusSampler struct{ c *Controller }

func (s statusSampler) Tick(ctx context.Context) (telemetry.Sample, error) { return s.c.tick(ctx) }

func (c *Controller) fired(ctx context.Context, name string, s telemetry.Sample) {
	trace.SpanFromContext(c.missionCtx).AddEvent("trigger", trace.WithAttributes(
		attribute.String("trigger", name),
		attribute.Float64("ut", s.Timestamp),
	))
	c.observer.TriggerFired(ctx, name, s)
}

// transition moves the mission forward to next.
func (c *Controller) transition(ctx context.Context, next Phase) error {
	c.mu.Lock()
	from := c.status.Phase
	if err := checkTransition(from, next); err != nil {
		c.mu.Unlock()
		return err
	}
	c.status.Phase = next
	c.mu.Unlock()

	now := c.clock.Now()
	spent := now.Sub(c.phaseStart)
	c.startPhaseSpan(next)
	c.observer.PhaseChanged(ctx, from, next, spent)
	return nil
}

func (c *Controller) startPhaseSpan(p Phase) {
	if c.phaseSpan != nil {
		c.phaseSpan.End()
	}
	_, c.phaseSpan = c.tracer.Start(c.missionCtx, "phase/"+p.String(),
		trace.WithAttributes(attribute.String("phase", p.String())))
	c.phaseStart = c.clock.Now()
}

func (c *Controller) fail(ctx context.Context, err error) {
	kind := FailureKind(err)
	c.mu.Lock()
	from := c.status.Phase
	c.status.Failure = kind
	c.status.Error = err.Error()
	if !from.Terminal() {
		c.status.Phase = Aborted
	}
	c.mu.Unlock()

	if c.phaseSpan != nil {
		c.phaseSpan.RecordError(err)
		c.phaseSpan.SetStatus(codes.Error, kind)
	}
	if !from.Terminal() {
		c.observer.PhaseChanged(ctx, from, Aborted, c.clock.Now().Sub(c.phaseStart))
	}
	c.observer.MissionFailed(ctx, kind, err)
}

// actuator records every command in Status and classifies provider errors.
type actuator struct {
	vehicle.Provider
	c *Controller
}

func (a *actuator) SetThrottle(ctx context.Context, throttle float64) error {
	if err := a.Provider.SetThrottle(ctx, throttle); err != nil {
		return vehicle.ActuationError("set throttle", err)
	}
	a.c.mu.Lock()
	a.c.status.Throttle = throttle
	a.c.mu.Unlock()
	return nil
}

func (a *actuator) SetSAS(ctx context.Context, enabled bool) error {
	return vehicle.ActuationError("set sas", a.Provider.SetSAS(ctx, enabled))
}

func (a *actuator) EngageAutopilot(ctx context.Context) error {
	return vehicle.ActuationError("engage autopilot", a.Provider.EngageAutopilot(ctx))
}

func (a *actuator) SetPitchAndHeading(ctx context.Context, pitch, heading float64) error {
	if err := a.Provider.SetPitchAndHeading(ctx, pitch, heading); err != nil {
		return vehicle.ActuationError("set pitch and heading", err)
	}
	a.c.mu.Lock()
	a.c.status.Pitch = pitch
	a.c.status.Heading = heading
	a.c.status.AttitudeCommands++
	a.c.mu.Unlock()
	return nil
}

func (a *actuator) ActivateNextStage(ctx context.Context) error {
	if err := a.Provider.ActivateNextStage(ctx); err != nil {
		return vehicle.ActuationError("activate stage", err)
	}
	a.c.mu.Lock()
	a.c.status.StageActivations++
	a.c.mu.Unlock()
	return nil
}
