// Package vehicle defines the contract between the flight controller and the
// vehicle/telemetry provider: scalar reads, actuation commands, orbit and
// propulsion snapshots, maneuver nodes and time compression.
package vehicle

import (
	"context"
	"fmt"
)

// Scalar identifies a telemetry stream read through Provider.Read.
type Scalar int

const (
	// ScalarUT is the provider's universal time in seconds.
	ScalarUT Scalar = iota
	// ScalarMeanAltitude is the altitude above mean sea level in metres.
	ScalarMeanAltitude
	// ScalarApoapsisAltitude is the apoapsis altitude above the surface in metres.
	ScalarApoapsisAltitude
	// ScalarSpeed is the speed relative to the body in m/s.
	ScalarSpeed
	// ScalarMass is the total vehicle mass in kg.
	ScalarMass
)

func (s Scalar) String() string {
	switch s {
	case ScalarUT:
		return "ut"
	case ScalarMeanAltitude:
		return "mean_altitude"
	case ScalarApoapsisAltitude:
		return "apoapsis_altitude"
	case ScalarSpeed:
		return "speed"
	case ScalarMass:
		return "mass"
	default:
		return fmt.Sprintf("scalar(%d)", int(s))
	}
}

// Vector3 is a direction or vector expressed in some Frame.
type Vector3 struct {
	X, Y, Z float64
}

// Prograde is the burn direction of a maneuver node in its own frame.
var Prograde = Vector3{X: 0, Y: 1, Z: 0}

// Frame is an opaque reference-frame handle issued by a Provider. Frames are
// only meaningful to the provider that issued them.
type Frame interface {
	// FrameName is a human-readable label used in logs.
	FrameName() string
}

// OrbitElements is a read-only snapshot of the current orbit. Re-read it at
// the point of use; it goes stale as soon as the vehicle burns or stages.
type OrbitElements struct {
	GravitationalParameter float64 // m^3/s^2
	ApoapsisAltitude       float64 // m above the surface
	ApoapsisRadius         float64 // m from the body centre
	SemiMajorAxis          float64 // m
	TimeToApoapsis         float64 // s
}

// Propulsion is a snapshot of the currently active propulsion.
type Propulsion struct {
	AvailableThrust float64 // N
	SpecificImpulse float64 // s
	Mass            float64 // kg
}

// Resources is a handle on the resources of one decouple stage.
type Resources interface {
	Amount(ctx context.Context, kind string) (float64, error)
}

// Node is a maneuver node owned by the controller. It must be removed exactly
// once.
type Node interface {
	// UT is the node's execution time.
	UT() float64
	// DeltaV is the planned prograde velocity change in m/s.
	DeltaV() float64
	// ReferenceFrame is the node's own frame (prograde is +Y).
	ReferenceFrame() Frame
	// RemainingBurnVector is the burn still to be executed, in frame.
	RemainingBurnVector(ctx context.Context, frame Frame) (Vector3, error)
	// Remove deletes the node from the provider.
	Remove(ctx context.Context) error
}

// Provider is the vehicle/telemetry provider consumed by the controller.
// Commands are applied in issue order and acknowledged synchronously.
type Provider interface {
	// Read returns the latest value of a scalar stream.
	Read(ctx context.Context, s Scalar) (float64, error)

	SetThrottle(ctx context.Context, throttle float64) error
	SetSAS(ctx context.Context, enabled bool) error
	EngageAutopilot(ctx context.Context) error
	SetPitchAndHeading(ctx context.Context, pitch, heading float64) error
	SetTargetDirection(ctx context.Context, frame Frame, direction Vector3) error
	// AttitudeConverged reports the provider's own attitude-hold convergence signal.
	AttitudeConverged(ctx context.Context) (bool, error)

	// ActivateNextStage fires the next staged event.
	ActivateNextStage(ctx context.Context) error
	ResourcesInDecoupleStage(ctx context.Context, stage int) (Resources, error)

	Orbit(ctx context.Context) (OrbitElements, error)
	Propulsion(ctx context.Context) (Propulsion, error)

	AddManeuverNode(ctx context.Context, ut, prograde float64) (Node, error)
	// WarpTo requests time compression up to ut. It is a scheduling hint.
	WarpTo(ctx context.Context, ut float64) error
}
