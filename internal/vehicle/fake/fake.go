// Package fake provides a scripted vehicle.Provider. Telemetry is a pure
// function of provider time, which follows a timectrl.ManualClock; time
// compression jumps the clock. Every command is recorded for inspection.
package fake

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
	"github.com/signalsfoundry/ascent-controller/timectrl"
)

// ErrNodeRemoved is returned when a node is removed twice.
var ErrNodeRemoved = errors.New("maneuver node already removed")

// Profile scripts the vehicle. Functions receive seconds since the clock start.
type Profile struct {
	Altitude    func(t float64) float64
	Apoapsis    func(t float64) float64
	Speed       func(t float64) float64
	Mass        func(t float64) float64
	BoosterFuel func(t float64) float64
	Orbit       func(t float64) vehicle.OrbitElements
	Propulsion  vehicle.Propulsion

	// AttitudeSettlePolls is how many AttitudeConverged calls report false
	// after a new attitude target. Negative never converges.
	AttitudeSettlePolls int
	// RemainingBurn is reported by nodes after creation.
	RemainingBurn vehicle.Vector3
}

// Kerbin-like body used by DefaultProfile.
const (
	BodyRadius = 600000.0
	BodyMu     = 3.5316e12
)

// DefaultProfile is a scripted ascent: altitude climbs 500 m/s up to 90 km,
// apoapsis reaches 80 km at t=150 s, booster fuel runs out at t=60 s and
// apoapsis is reached at t=400 s.
func DefaultProfile() Profile {
	apoapsis := func(t float64) float64 { return 80000 * t / 150 }
	return Profile{
		Altitude:    func(t float64) float64 { return math.Min(500*t, 90000) },
		Apoapsis:    apoapsis,
		Speed:       func(t float64) float64 { return math.Min(15*t, 2300) },
		Mass:        func(t float64) float64 { return math.Max(20000-50*t, 5000) },
		BoosterFuel: func(t float64) float64 { return math.Max(0, 100*(1-t/60)) },
		Orbit: func(t float64) vehicle.OrbitElements {
			apo := apoapsis(t)
			return vehicle.OrbitElements{
				GravitationalParameter: BodyMu,
				ApoapsisAltitude:       apo,
				ApoapsisRadius:         BodyRadius + apo,
				SemiMajorAxis:          450000,
				TimeToApoapsis:         math.Max(400-t, 0),
			}
		},
		Propulsion: vehicle.Propulsion{
			AvailableThrust: 60000,
			SpecificImpulse: 350,
			Mass:            5000,
		},
		AttitudeSettlePolls: 5,
		RemainingBurn:       vehicle.Vector3{X: 0.2, Y: 1.5, Z: 0},
	}
}

// Frame is the fake's reference-frame handle.
type Frame struct{ Name string }

// FrameName implements vehicle.Frame.
func (f Frame) FrameName() string { return f.Name }

// Commands is a snapshot of everything the controller asked for.
type Commands struct {
	Throttle          []float64
	SAS               []bool
	AutopilotEngaged  int
	PitchHeading      [][2]float64
	Directions        []vehicle.Vector3
	StageActivations  int
	NodesCreated      int
	NodesRemoved      int
	Warps             []float64
	AttitudeQueries   int
	BoosterQueries    int
	ResourceHandleReq int
}

// Vessel is the scripted provider.
type Vessel struct {
	mu      sync.Mutex
	clock   *timectrl.ManualClock
	start   time.Time
	profile Profile

	cmds         Commands
	settleLeft   int
	readErrs     map[vehicle.Scalar]failure
	commandErrs  map[string]error
	resourceErr  error
	activeNode   *Node
	lastThrottle float64
}

type failure struct {
	after float64
	err   error
}

// New builds a Vessel whose time origin is the clock's current time.
func New(clock *timectrl.ManualClock, profile Profile) *Vessel {
	return &Vessel{
		clock:       clock,
		start:       clock.Now(),
		profile:     profile,
		readErrs:    make(map[vehicle.Scalar]failure),
		commandErrs: make(map[string]error),
	}
}

// FailRead makes reads of s fail with err once provider time reaches after.
func (v *Vessel) FailRead(s vehicle.Scalar, after float64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.readErrs[s] = failure{after: after, err: err}
}

// FailCommand makes the named command fail with err. Names match the
// Provider method names, e.g. "SetThrottle".
func (v *Vessel) FailCommand(name string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commandErrs[name] = err
}

// FailResources makes ResourcesInDecoupleStage fail.
func (v *Vessel) FailResources(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resourceErr = err
}

// Commands returns a copy of the command log.
func (v *Vessel) Commands() Commands {
	v.mu.Lock()
	defer v.mu.Unlock()
	c := v.cmds
	c.Throttle = append([]float64(nil), v.cmds.Throttle...)
	c.SAS = append([]bool(nil), v.cmds.SAS...)
	c.PitchHeading = append([][2]float64(nil), v.cmds.PitchHeading...)
	c.Directions = append([]vehicle.Vector3(nil), v.cmds.Directions...)
	c.Warps = append([]float64(nil), v.cmds.Warps...)
	return c
}

// Throttle returns the last commanded throttle.
func (v *Vessel) Throttle() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastThrottle
}

// Elapsed returns provider seconds since the clock origin.
func (v *Vessel) Elapsed() float64 {
	return v.clock.Now().Sub(v.start).Seconds()
}

func (v *Vessel) command(name string) error {
	if err := v.commandErrs[name]; err != nil {
		return fmt.Errorf("fake %s: %w", name, err)
	}
	return nil
}

// Read implements vehicle.Provider.
func (v *Vessel) Read(ctx context.Context, s vehicle.Scalar) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t := v.Elapsed()
	v.mu.Lock()
	f, failing := v.readErrs[s]
	v.mu.Unlock()
	if failing && t >= f.after {
		return 0, f.err
	}
	switch s {
	case vehicle.ScalarUT:
		return t, nil
	case vehicle.ScalarMeanAltitude:
		return v.profile.Altitude(t), nil
	case vehicle.ScalarApoapsisAltitude:
		return v.profile.Apoapsis(t), nil
	case vehicle.ScalarSpeed:
		return v.profile.Speed(t), nil
	case vehicle.ScalarMass:
		return v.profile.Mass(t), nil
	default:
		return 0, fmt.Errorf("fake: unknown scalar %s", s)
	}
}

// SetThrottle implements vehicle.Provider.
func (v *Vessel) SetThrottle(_ context.Context, throttle float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.command("SetThrottle"); err != nil {
		return err
	}
	v.cmds.Throttle = append(v.cmds.Throttle, throttle)
	v.lastThrottle = throttle
	return nil
}

// SetSAS implements vehicle.Provider.
func (v *Vessel) SetSAS(_ context.Context, enabled bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.command("SetSAS"); err != nil {
		return err
	}
	v.cmds.SAS = append(v.cmds.SAS, enabled)
	return nil
}

// EngageAutopilot implements vehicle.Provider.
func (v *Vessel) EngageAutopilot(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.command("EngageAutopilot"); err != nil {
		return err
	}
	v.cmds.AutopilotEngaged++
	return nil
}

// SetPitchAndHeading implements vehicle.Provider.
func (v *Vessel) SetPitchAndHeading(_ context.Context, pitch, heading float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.command("SetPitchAndHeading"); err != nil {
		return err
	}
	v.cmds.PitchHeading = append(v.cmds.PitchHeading, [2]float64{pitch, heading})
	v.settleLeft = v.profile.AttitudeSettlePolls
	return nil
}

// SetTargetDirection implements vehicle.Provider.
func (v *Vessel) SetTargetDirection(_ context.Context, frame vehicle.Frame, direction vehicle.Vector3) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.command("SetTargetDirection"); err != nil {
		return err
	}
	if _, ok := frame.(Frame); !ok {
		return fmt.Errorf("fake: foreign frame %T", frame)
	}
	v.cmds.Directions = append(v.cmds.Directions, direction)
	v.settleLeft = v.profile.AttitudeSettlePolls
	return nil
}

// AttitudeConverged implements vehicle.Provider.
func (v *Vessel) AttitudeConverged(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cmds.AttitudeQueries++
	if v.settleLeft < 0 {
		return false, nil
	}
	if v.settleLeft > 0 {
		v.settleLeft--
		return false, nil
	}
	return true, nil
}

// ActivateNextStage implements vehicle.Provider.
func (v *Vessel) ActivateNextStage(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.command("ActivateNextStage"); err != nil {
		return err
	}
	v.cmds.StageActivations++
	return nil
}

// ResourcesInDecoupleStage implements vehicle.Provider.
func (v *Vessel) ResourcesInDecoupleStage(_ context.Context, stage int) (vehicle.Resources, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.resourceErr != nil {
		return nil, v.resourceErr
	}
	v.cmds.ResourceHandleReq++
	return &resources{vessel: v, stage: stage}, nil
}

type resources struct {
	vessel *Vessel
	stage  int
}

func (r *resources) Amount(ctx context.Context, kind string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.vessel.mu.Lock()
	r.vessel.cmds.BoosterQueries++
	r.vessel.mu.Unlock()
	return r.vessel.profile.BoosterFuel(r.vessel.Elapsed()), nil
}

// Orbit implements vehicle.Provider.
func (v *Vessel) Orbit(ctx context.Context) (vehicle.OrbitElements, error) {
	if err := ctx.Err(); err != nil {
		return vehicle.OrbitElements{}, err
	}
	return v.profile.Orbit(v.Elapsed()), nil
}

// Propulsion implements vehicle.Provider.
func (v *Vessel) Propulsion(ctx context.Context) (vehicle.Propulsion, error) {
	if err := ctx.Err(); err != nil {
		return vehicle.Propulsion{}, err
	}
	return v.profile.Propulsion, nil
}

// AddManeuverNode implements vehicle.Provider.
func (v *Vessel) AddManeuverNode(_ context.Context, ut, prograde float64) (vehicle.Node, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.command("AddManeuverNode"); err != nil {
		return nil, err
	}
	if v.activeNode != nil {
		return nil, errors.New("fake: a maneuver node already exists")
	}
	v.cmds.NodesCreated++
	n := &Node{vessel: v, ut: ut, deltaV: prograde, frame: Frame{Name: fmt.Sprintf("node-%d", v.cmds.NodesCreated)}}
	v.activeNode = n
	return n, nil
}

// WarpTo implements vehicle.Provider by jumping the clock.
func (v *Vessel) WarpTo(_ context.Context, ut float64) error {
	v.mu.Lock()
	if err := v.command("WarpTo"); err != nil {
		v.mu.Unlock()
		return err
	}
	v.cmds.Warps = append(v.cmds.Warps, ut)
	v.mu.Unlock()
	v.clock.Set(v.start.Add(time.Duration(ut * float64(time.Second))))
	return nil
}

// Node is the fake maneuver node.
type Node struct {
	vessel  *Vessel
	ut      float64
	deltaV  float64
	frame   Frame
	removed bool
}

// UT implements vehicle.Node.
func (n *Node) UT() float64 { return n.ut }

// DeltaV implements vehicle.Node.
func (n *Node) DeltaV() float64 { return n.deltaV }

// ReferenceFrame implements vehicle.Node.
func (n *Node) ReferenceFrame() vehicle.Frame { return n.frame }

// RemainingBurnVector implements vehicle.Node.
func (n *Node) RemainingBurnVector(ctx context.Context, frame vehicle.Frame) (vehicle.Vector3, error) {
	if err := ctx.Err(); err != nil {
		return vehicle.Vector3{}, err
	}
	if _, ok := frame.(Frame); !ok {
		return vehicle.Vector3{}, fmt.Errorf("fake: foreign frame %T", frame)
	}
	return n.vessel.profile.RemainingBurn, nil
}

// Remove implements vehicle.Node.
func (n *Node) Remove(context.Context) error {
	n.vessel.mu.Lock()
	defer n.vessel.mu.Unlock()
	if err := n.vessel.command("RemoveNode"); err != nil {
		return err
	}
	if n.removed {
		return ErrNodeRemoved
	}
	n.removed = true
	n.vessel.cmds.NodesRemoved++
	if n.vessel.activeNode == n {
		n.vessel.activeNode = nil
	}
	return nil
}
