package maneuver

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/signalsfoundry/ascent-controller/internal/config"
	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
	"github.com/signalsfoundry/ascent-controller/internal/vehicle/fake"
	"github.com/signalsfoundry/ascent-controller/timectrl"
)

func TestPlanMatchesClosedForm(t *testing.T) {
	mu, r, a1 := 3.5e12, 7e6, 6.8e6
	orbit := vehicle.OrbitElements{GravitationalParameter: mu, ApoapsisRadius: r, SemiMajorAxis: a1, TimeToApoapsis: 120}
	prop := vehicle.Propulsion{AvailableThrust: 60000, SpecificImpulse: 350, Mass: 5000}

	plan, err := Plan(orbit, prop, 1000, 9.82)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := math.Sqrt(mu/r) - math.Sqrt(mu*(2/r-1/a1))
	if rel := math.Abs(plan.DeltaV-want) / want; rel > 1e-6 {
		t.Fatalf("DeltaV = %v, want %v (rel err %g)", plan.DeltaV, want, rel)
	}

	ve := 350 * 9.82
	wantBurn := 5000 * (1 - math.Exp(-want/ve)) * ve / 60000
	if math.Abs(plan.BurnTime-wantBurn) > 1e-6 {
		t.Fatalf("BurnTime = %v, want %v", plan.BurnTime, wantBurn)
	}
	if plan.BurnTime < 0 || math.IsInf(plan.BurnTime, 0) {
		t.Fatalf("BurnTime = %v, want finite non-negative", plan.BurnTime)
	}
	if plan.NodeTime != 1120 {
		t.Fatalf("NodeTime = %v, want 1120", plan.NodeTime)
	}
	if plan.StartTime != plan.NodeTime-plan.BurnTime/2 {
		t.Fatalf("StartTime = %v, want NodeTime - BurnTime/2", plan.StartTime)
	}
}

func TestPlanInfeasible(t *testing.T) {
	orbit := vehicle.OrbitElements{GravitationalParameter: 3.5e12, ApoapsisRadius: 7e6, SemiMajorAxis: 6.8e6}
	tests := []struct {
		name  string
		orbit vehicle.OrbitElements
		prop  vehicle.Propulsion
	}{
		{"no thrust", orbit, vehicle.Propulsion{AvailableThrust: 0, SpecificImpulse: 350, Mass: 5000}},
		{"no isp", orbit, vehicle.Propulsion{AvailableThrust: 60000, SpecificImpulse: 0, Mass: 5000}},
		{"hyperbolic radius", vehicle.OrbitElements{GravitationalParameter: 3.5e12, ApoapsisRadius: 2e7, SemiMajorAxis: 6.8e6},
			vehicle.Propulsion{AvailableThrust: 60000, SpecificImpulse: 350, Mass: 5000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Plan(tt.orbit, tt.prop, 0, 9.82); !errors.Is(err, ErrPlanningInfeasible) {
				t.Fatalf("Plan() = %v, want ErrPlanningInfeasible", err)
			}
		})
	}
}

func newExecutorFixture(t *testing.T, profile fake.Profile) (*fake.Vessel, *timectrl.ManualClock, BurnPlan) {
	t.Helper()
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	v := fake.New(clock, profile)
	clock.Advance(200 * time.Second)

	ctx := context.Background()
	orbit, _ := v.Orbit(ctx)
	prop, _ := v.Propulsion(ctx)
	plan, err := Plan(orbit, prop, 200, 9.82)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	return v, clock, plan
}

func testTiming() Timing {
	return Timing{Poll: 100 * time.Millisecond, Attitude: 3 * time.Minute, BurnWindow: 30 * time.Minute}
}

func TestExecutorFliesBurn(t *testing.T) {
	v, clock, plan := newExecutorFixture(t, fake.DefaultProfile())

	var steps []Step
	exec := NewExecutor(v, clock, config.DefaultMission(), testTiming(),
		WithStepHandler(func(_ context.Context, s Step) error {
			steps = append(steps, s)
			return nil
		}))

	res, err := exec.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	wantSteps := []Step{StepOrienting, StepWarpToBurn, StepBurning, StepFineTrim, StepDeployed}
	if !reflect.DeepEqual(steps, wantSteps) {
		t.Fatalf("steps = %v, want %v", steps, wantSteps)
	}

	cmds := v.Commands()
	if cmds.NodesCreated != 1 || cmds.NodesRemoved != 1 {
		t.Fatalf("nodes created=%d removed=%d, want 1 and 1", cmds.NodesCreated, cmds.NodesRemoved)
	}
	if cmds.StageActivations != 3 {
		t.Fatalf("stage activations = %d, want 3", cmds.StageActivations)
	}
	if !reflect.DeepEqual(cmds.Throttle, []float64{1, 0.05}) {
		t.Fatalf("throttle = %v, want [1 0.05]", cmds.Throttle)
	}
	if len(cmds.Warps) != 1 || cmds.Warps[0] != plan.StartTime-5 {
		t.Fatalf("warps = %v, want [%v]", cmds.Warps, plan.StartTime-5)
	}
	if len(cmds.Directions) != 1 || cmds.Directions[0] != vehicle.Prograde {
		t.Fatalf("directions = %v, want [prograde]", cmds.Directions)
	}

	if math.Abs(res.RemainingBurn-math.Sqrt(0.2*0.2+1.5*1.5)) > 1e-9 {
		t.Fatalf("RemainingBurn = %v", res.RemainingBurn)
	}
	if res.BurnHold != 2*plan.BurnTime-0.1 {
		t.Fatalf("BurnHold = %v, want %v", res.BurnHold, 2*plan.BurnTime-0.1)
	}
	if elapsed := v.Elapsed(); elapsed < plan.StartTime+res.BurnHold-1e-6 {
		t.Fatalf("elapsed = %v, want at least %v", elapsed, plan.StartTime+res.BurnHold)
	}
	if res.AttitudeWaitTicks != 6 {
		t.Fatalf("AttitudeWaitTicks = %d, want 6", res.AttitudeWaitTicks)
	}
}

func TestExecutorAttitudeStall(t *testing.T) {
	profile := fake.DefaultProfile()
	profile.AttitudeSettlePolls = -1
	v, clock, plan := newExecutorFixture(t, profile)

	timing := testTiming()
	timing.Attitude = 10 * time.Second
	exec := NewExecutor(v, clock, config.DefaultMission(), timing)

	_, err := exec.Execute(context.Background(), plan)
	if !errors.Is(err, timectrl.ErrStalled) {
		t.Fatalf("Execute() = %v, want ErrStalled", err)
	}
	cmds := v.Commands()
	if cmds.NodesRemoved != 0 || len(cmds.Throttle) != 0 || len(cmds.Warps) != 0 {
		t.Fatalf("actuation after stall: %+v", cmds)
	}
}

func TestExecutorActuationFailure(t *testing.T) {
	v, clock, plan := newExecutorFixture(t, fake.DefaultProfile())
	v.FailCommand("WarpTo", errors.New("warp refused"))

	exec := NewExecutor(v, clock, config.DefaultMission(), testTiming())
	if _, err := exec.Execute(context.Background(), plan); !errors.Is(err, vehicle.ErrActuationFailure) {
		t.Fatalf("Execute() = %v, want ErrActuationFailure", err)
	}
}

func TestExecutorStepHandlerAborts(t *testing.T) {
	v, clock, plan := newExecutorFixture(t, fake.DefaultProfile())
	stop := errors.New("stop")
	exec := NewExecutor(v, clock, config.DefaultMission(), testTiming(),
		WithStepHandler(func(_ context.Context, s Step) error {
			if s == StepBurning {
				return stop
			}
			return nil
		}))
	if _, err := exec.Execute(context.Background(), plan); !errors.Is(err, stop) {
		t.Fatalf("Execute() = %v, want handler error", err)
	}
	cmds := v.Commands()
	if len(cmds.Throttle) != 0 {
		t.Fatalf("throttle commanded after abort: %v", cmds.Throttle)
	}
	if cmds.NodesCreated != 1 || cmds.NodesRemoved != 0 {
		t.Fatalf("nodes created=%d removed=%d, want the node left in place", cmds.NodesCreated, cmds.NodesRemoved)
	}
}

func TestStepString(t *testing.T) {
	if StepWarpToBurn.String() != "warp_to_burn" || Step(42).String() != "step(42)" {
		t.Fatalf("unexpected Step strings")
	}
}
