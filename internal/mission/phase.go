package mission

import (
	"errors"
	"fmt"
)

// Phase is a mission phase. Phases are ordered; the controller only moves
// forward.
type Phase int

const (
	PreLaunch Phase = iota
	PoweredAscent
	BoosterCoast
	ApoapsisApproach
	ApoapsisFineTune
	AtmosphereExit
	ManeuverPlanning
	Orienting
	WarpToBurn
	Burning
	FineTrim
	Deployed
	Complete
	// Aborted is the terminal failure phase. It is reachable from any
	// non-terminal phase.
	Aborted
)

// ErrInvalidTransition is returned for a transition that would not move the
// mission forward.
var ErrInvalidTransition = errors.New("invalid phase transition")

var phaseNames = [...]string{
	PreLaunch:        "pre_launch",
	PoweredAscent:    "powered_ascent",
	BoosterCoast:     "booster_coast",
	ApoapsisApproach: "apoapsis_approach",
	ApoapsisFineTune: "apoapsis_fine_tune",
	AtmosphereExit:   "atmosphere_exit",
	ManeuverPlanning: "maneuver_planning",
	Orienting:        "orienting",
	WarpToBurn:       "warp_to_burn",
	Burning:          "burning",
	FineTrim:         "fine_trim",
	Deployed:         "deployed",
	Complete:         "complete",
	Aborted:          "aborted",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == Complete || p == Aborted
}

// Phases lists every phase in order.
func Phases() []Phase {
	out := make([]Phase, 0, len(phaseNames))
	for p := PreLaunch; p <= Aborted; p++ {
		out = append(out, p)
	}
	return out
}

func checkTransition(from, to Phase) error {
	if from.Terminal() || to <= from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
