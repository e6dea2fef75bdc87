package trigger

import (
	"testing"

	"github.com/signalsfoundry/ascent-controller/internal/config"
	"github.com/signalsfoundry/ascent-controller/internal/telemetry"
)

func TestPredicates(t *testing.T) {
	m := config.DefaultMission()
	tests := []struct {
		name   string
		sample telemetry.Sample
		want   bool
	}{
		{BoosterSeparation, telemetry.Sample{ResourceRemaining: 0.09}, true},
		{BoosterSeparation, telemetry.Sample{ResourceRemaining: 0.1}, false},
		{MainEngineCutoff, telemetry.Sample{Apoapsis: 72001}, true},
		{MainEngineCutoff, telemetry.Sample{Apoapsis: 71999}, false},
		{ApoapsisReached, telemetry.Sample{Apoapsis: 80000}, true},
		{ApoapsisReached, telemetry.Sample{Apoapsis: 79999}, false},
		{AtmosphereExit, telemetry.Sample{Altitude: 70500}, true},
		{AtmosphereExit, telemetry.Sample{Altitude: 70499}, false},
	}
	for _, tt := range tests {
		if got := Predicates[tt.name](tt.sample, m); got != tt.want {
			t.Fatalf("%s(%+v) = %v, want %v", tt.name, tt.sample, got, tt.want)
		}
	}
}

func TestBoosterSeparationFiresOnce(t *testing.T) {
	m := config.DefaultMission()
	st := NewState()
	fired := 0
	for i := 0; i < 500; i++ {
		if st.Evaluate(BoosterSeparation, telemetry.Sample{Timestamp: float64(i), ResourceRemaining: 0}, m) {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("booster separation fired %d times, want 1", fired)
	}
	if !st.BoostersSeparated() {
		t.Fatalf("BoostersSeparated() = false after firing")
	}
}

func TestFireUnknownAndIndependent(t *testing.T) {
	st := NewState()
	if st.Evaluate("nope", telemetry.Sample{}, config.DefaultMission()) {
		t.Fatalf("unknown trigger fired")
	}
	if !st.Fire(ApoapsisReached) || st.Fire(ApoapsisReached) {
		t.Fatalf("Fire should report true exactly once")
	}
	if st.Fired(AtmosphereExit) {
		t.Fatalf("unrelated trigger reported fired")
	}
}
