package maneuver

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/signalsfoundry/ascent-controller/internal/config"
	"github.com/signalsfoundry/ascent-controller/internal/logging"
	"github.com/signalsfoundry/ascent-controller/internal/telemetry"
	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
	"github.com/signalsfoundry/ascent-controller/timectrl"
)

// Step is a stage of burn execution reported to the step handler.
type Step int

const (
	StepOrienting Step = iota
	StepWarpToBurn
	StepBurning
	StepFineTrim
	StepDeployed
)

func (s Step) String() string {
	switch s {
	case StepOrienting:
		return "orienting"
	case StepWarpToBurn:
		return "warp_to_burn"
	case StepBurning:
		return "burning"
	case StepFineTrim:
		return "fine_trim"
	case StepDeployed:
		return "deployed"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// StepHandler is told when each step begins. A non-nil error aborts execution.
type StepHandler func(ctx context.Context, step Step) error

// Timing bounds the executor's waits. Zero timeouts wait forever.
type Timing struct {
	Poll       time.Duration
	Attitude   time.Duration
	BurnWindow time.Duration
}

// Result describes a completed burn.
type Result struct {
	Plan              BurnPlan `json:"plan"`
	BurnHold          float64  `json:"burnHold"`          // s at full throttle
	RemainingBurn     float64  `json:"remainingBurn"`     // m/s left on the node
	AttitudeWaitTicks int      `json:"attitudeWaitTicks"` // convergence polls
}

// Executor creates the maneuver node and flies the burn.
type Executor struct {
	provider vehicle.Provider
	clock    timectrl.Clock
	mission  config.Mission
	timing   Timing

	sampler Sampler
	onStep  StepHandler
	logger  logging.Logger
}

// Sampler is ticked on every poll of the executor's waits.
type Sampler interface {
	Tick(ctx context.Context) (telemetry.Sample, error)
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithSampler keeps telemetry sampling while the executor waits.
func WithSampler(s Sampler) ExecutorOption {
	return func(e *Executor) { e.sampler = s }
}

// WithStepHandler registers the step callback.
func WithStepHandler(h StepHandler) ExecutorOption {
	return func(e *Executor) { e.onStep = h }
}

// WithLogger sets the logger used for status messages.
func WithLogger(l logging.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor builds an executor.
func NewExecutor(p vehicle.Provider, clock timectrl.Clock, m config.Mission, timing Timing, opts ...ExecutorOption) *Executor {
	if clock == nil {
		clock = timectrl.WallClock{}
	}
	e := &Executor{
		provider: p,
		clock:    clock,
		mission:  m,
		timing:   timing,
		logger:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute creates the node for plan and flies it through payload deployment.
// The node is removed exactly once on success; failures leave it in place.
func (e *Executor) Execute(ctx context.Context, plan BurnPlan) (Result, error) {
	res := Result{Plan: plan}

	node, err := e.provider.AddManeuverNode(ctx, plan.NodeTime, plan.DeltaV)
	if err != nil {
		return res, vehicle.ActuationError("add maneuver node", err)
	}

	// Point prograde in the node frame and wait for the autopilot.
	if err := e.step(ctx, StepOrienting); err != nil {
		return res, err
	}
	e.logger.Info(ctx, "Orientating ship", logging.String("frame", node.ReferenceFrame().FrameName()))
	if err := e.provider.SetTargetDirection(ctx, node.ReferenceFrame(), vehicle.Prograde); err != nil {
		return res, vehicle.ActuationError("set target direction", err)
	}
	err = e.await(ctx, "attitude convergence", e.timing.Attitude, func(ctx context.Context) (bool, error) {
		res.AttitudeWaitTicks++
		ok, err := e.provider.AttitudeConverged(ctx)
		if err != nil {
			return false, vehicle.TelemetryError("attitude error", err)
		}
		return ok, nil
	})
	if err != nil {
		return res, err
	}

	if err := e.step(ctx, StepWarpToBurn); err != nil {
		return res, err
	}
	e.logger.Info(ctx, "Waiting until circularization burn")
	warpTo := plan.StartTime - e.mission.LeadTime
	if err := e.provider.WarpTo(ctx, warpTo); err != nil {
		return res, vehicle.ActuationError("warp", err)
	}
	for i := 0; i < 2; i++ {
		if err := e.provider.ActivateNextStage(ctx); err != nil {
			return res, vehicle.ActuationError("activate stage", err)
		}
	}
	e.logger.Info(ctx, "Ready to execute burn")
	halfBurn := plan.BurnTime / 2
	err = e.await(ctx, "burn window", e.timing.BurnWindow, func(ctx context.Context) (bool, error) {
		orbit, err := e.provider.Orbit(ctx)
		if err != nil {
			return false, vehicle.TelemetryError("orbit", err)
		}
		return orbit.TimeToApoapsis-halfBurn <= 0, nil
	})
	if err != nil {
		return res, err
	}

	if err := e.step(ctx, StepBurning); err != nil {
		return res, err
	}
	e.logger.Info(ctx, "Executing burn", logging.Float("burn_time_s", plan.BurnTime), logging.Float("delta_v", plan.DeltaV))
	if err := e.provider.SetThrottle(ctx, 1.0); err != nil {
		return res, vehicle.ActuationError("set throttle", err)
	}
	res.BurnHold = 2*plan.BurnTime - e.mission.BurnCutoffMargin
	if err := e.hold(ctx, config.Seconds(res.BurnHold)); err != nil {
		return res, err
	}

	if err := e.step(ctx, StepFineTrim); err != nil {
		return res, err
	}
	e.logger.Info(ctx, "Fine tuning")
	if err := e.provider.SetThrottle(ctx, e.mission.TrimThrottle); err != nil {
		return res, vehicle.ActuationError("set throttle", err)
	}
	remaining, err := node.RemainingBurnVector(ctx, node.ReferenceFrame())
	if err != nil {
		return res, vehicle.TelemetryError("remaining burn", err)
	}
	res.RemainingBurn = floats.Norm([]float64{remaining.X, remaining.Y, remaining.Z}, 2)
	e.logger.Info(ctx, "remaining burn", logging.Float("delta_v", res.RemainingBurn))

	if err := e.step(ctx, StepDeployed); err != nil {
		return res, err
	}
	if err := e.provider.ActivateNextStage(ctx); err != nil {
		return res, vehicle.ActuationError("activate stage", err)
	}
	if err := node.Remove(ctx); err != nil {
		return res, vehicle.ActuationError("remove maneuver node", err)
	}
	return res, nil
}

func (e *Executor) step(ctx context.Context, s Step) error {
	if e.onStep == nil {
		return nil
	}
	return e.onStep(ctx, s)
}

// await samples telemetry on every tick before evaluating cond.
func (e *Executor) await(ctx context.Context, name string, timeout time.Duration, cond timectrl.Condition) error {
	opts := timectrl.AwaitOptions{Poll: e.timing.Poll, Timeout: timeout, Name: name}
	return timectrl.Await(ctx, e.clock, opts, func(ctx context.Context) (bool, error) {
		if e.sampler != nil {
			if _, err := e.sampler.Tick(ctx); err != nil {
				return false, err
			}
		}
		return cond(ctx)
	})
}

// hold keeps sampling for d of clock time.
func (e *Executor) hold(ctx context.Context, d time.Duration) error {
	deadline := e.clock.Now().Add(d)
	return e.await(ctx, "burn hold", 0, func(context.Context) (bool, error) {
		return !e.clock.Now().Before(deadline), nil
	})
}
