package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
	"github.com/signalsfoundry/ascent-controller/timectrl"
)

var _ vehicle.Provider = (*Vessel)(nil)

func TestReadFollowsClock(t *testing.T) {
	ctx := context.Background()
	clock := timectrl.NewManualClock(time.Unix(100, 0))
	v := New(clock, DefaultProfile())

	clock.Advance(60 * time.Second)
	ut, _ := v.Read(ctx, vehicle.ScalarUT)
	alt, _ := v.Read(ctx, vehicle.ScalarMeanAltitude)
	if ut != 60 || alt != 30000 {
		t.Fatalf("ut=%v alt=%v, want 60 and 30000", ut, alt)
	}
	res, err := v.ResourcesInDecoupleStage(ctx, 5)
	if err != nil {
		t.Fatalf("ResourcesInDecoupleStage: %v", err)
	}
	if fuel, _ := res.Amount(ctx, "SolidFuel"); fuel != 0 {
		t.Fatalf("fuel at t=60 = %v, want 0", fuel)
	}
}

func TestWarpMovesClock(t *testing.T) {
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	v := New(clock, DefaultProfile())
	if err := v.WarpTo(context.Background(), 250.5); err != nil {
		t.Fatalf("WarpTo: %v", err)
	}
	if got := v.Elapsed(); got != 250.5 {
		t.Fatalf("Elapsed() = %v, want 250.5", got)
	}
}

func TestAttitudeSettles(t *testing.T) {
	ctx := context.Background()
	profile := DefaultProfile()
	profile.AttitudeSettlePolls = 2
	v := New(timectrl.NewManualClock(time.Unix(0, 0)), profile)

	if err := v.SetPitchAndHeading(ctx, 80, 90); err != nil {
		t.Fatalf("SetPitchAndHeading: %v", err)
	}
	var got []bool
	for i := 0; i < 3; i++ {
		ok, _ := v.AttitudeConverged(ctx)
		got = append(got, ok)
	}
	if got[0] || got[1] || !got[2] {
		t.Fatalf("convergence = %v, want [false false true]", got)
	}
}

func TestNodeLifecycle(t *testing.T) {
	ctx := context.Background()
	v := New(timectrl.NewManualClock(time.Unix(0, 0)), DefaultProfile())

	n, err := v.AddManeuverNode(ctx, 400, 700)
	if err != nil {
		t.Fatalf("AddManeuverNode: %v", err)
	}
	if _, err := v.AddManeuverNode(ctx, 400, 700); err == nil {
		t.Fatalf("second node should be rejected")
	}
	if n.UT() != 400 || n.DeltaV() != 700 {
		t.Fatalf("node = %v/%v, want 400/700", n.UT(), n.DeltaV())
	}
	if err := n.Remove(ctx); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := n.Remove(ctx); !errors.Is(err, ErrNodeRemoved) {
		t.Fatalf("second Remove() = %v, want ErrNodeRemoved", err)
	}
	if c := v.Commands(); c.NodesCreated != 1 || c.NodesRemoved != 1 {
		t.Fatalf("commands = %+v", c)
	}
}

func TestFailCommand(t *testing.T) {
	v := New(timectrl.NewManualClock(time.Unix(0, 0)), DefaultProfile())
	v.FailCommand("SetThrottle", errors.New("busy"))
	if err := v.SetThrottle(context.Background(), 1); err == nil {
		t.Fatalf("SetThrottle should fail")
	}
	if v.Throttle() != 0 {
		t.Fatalf("failed command changed throttle")
	}
}
