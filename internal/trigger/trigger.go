// Package trigger evaluates the ascent's event predicates against the latest
// telemetry sample. Predicates are level-triggered; State keeps the
// fired-once flags.
package trigger

import (
	"sync"

	"github.com/signalsfoundry/ascent-controller/internal/config"
	"github.com/signalsfoundry/ascent-controller/internal/telemetry"
)

// Names of the ascent triggers.
const (
	BoosterSeparation = "booster_separation"
	MainEngineCutoff  = "main_engine_cutoff"
	ApoapsisReached   = "apoapsis_reached"
	AtmosphereExit    = "atmosphere_exit"
)

// Predicate reports whether a trigger condition holds for a sample.
type Predicate func(s telemetry.Sample, m config.Mission) bool

// BoosterFuelDepleted holds when the booster stage is below its fuel threshold.
func BoosterFuelDepleted(s telemetry.Sample, m config.Mission) bool {
	return s.ResourceRemaining < m.BoosterFuelThreshold
}

// CutoffApoapsis holds once the apoapsis is within the cutoff fraction of
// the target.
func CutoffApoapsis(s telemetry.Sample, m config.Mission) bool {
	return s.Apoapsis >= m.ApoapsisCutoffFraction*m.TargetApoapsis
}

// TargetApoapsis holds once the apoapsis reached the target.
func TargetApoapsis(s telemetry.Sample, m config.Mission) bool {
	return s.Apoapsis >= m.TargetApoapsis
}

// OutOfAtmosphere holds above the exit altitude.
func OutOfAtmosphere(s telemetry.Sample, m config.Mission) bool {
	return s.Altitude >= m.ExitAltitude
}

// Predicates maps trigger names to their predicates.
var Predicates = map[string]Predicate{
	BoosterSeparation: BoosterFuelDepleted,
	MainEngineCutoff:  CutoffApoapsis,
	ApoapsisReached:   TargetApoapsis,
	AtmosphereExit:    OutOfAtmosphere,
}

// State records which triggers have fired.
type State struct {
	mu    sync.RWMutex
	fired map[string]bool
}

// NewState returns a state with nothing fired.
func NewState() *State {
	return &State{fired: make(map[string]bool)}
}

// Fire marks name as fired and reports true only the first time.
func (st *State) Fire(name string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.fired[name] {
		return false
	}
	st.fired[name] = true
	return true
}

// Fired reports whether name has fired.
func (st *State) Fired(name string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.fired[name]
}

// BoostersSeparated is the set-once booster staging flag.
func (st *State) BoostersSeparated() bool {
	return st.Fired(BoosterSeparation)
}

// Evaluate checks name against s and fires it if the predicate holds and it
// has not fired yet. Unknown names never fire.
func (st *State) Evaluate(name string, s telemetry.Sample, m config.Mission) bool {
	pred, ok := Predicates[name]
	if !ok || !pred(s, m) {
		return false
	}
	return st.Fire(name)
}
