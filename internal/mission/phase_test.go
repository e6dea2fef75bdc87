package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/signalsfoundry/ascent-controller/internal/maneuver"
	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
	"github.com/signalsfoundry/ascent-controller/timectrl"
)

func TestPhaseOrderingAndNames(t *testing.T) {
	phases := Phases()
	if len(phases) != 14 || phases[0] != PreLaunch || phases[len(phases)-1] != Aborted {
		t.Fatalf("Phases() = %v", phases)
	}
	seen := map[string]bool{}
	for _, p := range phases {
		name := p.String()
		if seen[name] {
			t.Fatalf("duplicate phase name %q", name)
		}
		seen[name] = true
	}
	if Phase(99).String() != "phase(99)" {
		t.Fatalf("unknown phase name = %q", Phase(99).String())
	}
	if !Complete.Terminal() || !Aborted.Terminal() || Burning.Terminal() {
		t.Fatalf("Terminal() misreports")
	}
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PreLaunch, PoweredAscent, true},
		{PoweredAscent, ApoapsisApproach, true},
		{Burning, Burning, false},
		{FineTrim, Orienting, false},
		{Burning, Aborted, true},
		{Complete, Aborted, false},
		{Aborted, Complete, false},
	}
	for _, tt := range tests {
		err := checkTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Fatalf("checkTransition(%s, %s) = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
	}
}

func TestPhaseJSON(t *testing.T) {
	b, err := json.Marshal(Status{Phase: WarpToBurn})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["phase"] != "warp_to_burn" {
		t.Fatalf("phase = %v, want warp_to_burn", decoded["phase"])
	}
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{vehicle.TelemetryError("speed", errors.New("x")), FailureTelemetryUnavailable},
		{fmt.Errorf("plan: %w", maneuver.ErrPlanningInfeasible), FailurePlanningInfeasible},
		{vehicle.ActuationError("throttle", errors.New("x")), FailureActuation},
		{fmt.Errorf("wait: %w", timectrl.ErrStalled), FailureStalled},
		{vehicle.TelemetryError("speed", context.Canceled), FailureCanceled},
		{errors.New("boom"), FailureUnknown},
	}
	for _, tt := range tests {
		if got := FailureKind(tt.err); got != tt.want {
			t.Fatalf("FailureKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
