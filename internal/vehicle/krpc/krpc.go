// Package krpc implements vehicle.Provider against a kRPC server using
// github.com/atburke/krpc-go.
package krpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	krpcgo "github.com/atburke/krpc-go"
	"github.com/atburke/krpc-go/spacecenter"
	"github.com/atburke/krpc-go/types"

	"github.com/signalsfoundry/ascent-controller/internal/config"
	"github.com/signalsfoundry/ascent-controller/internal/logging"
	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
)

// DefaultAttitudeTolerance is the autopilot error, in degrees, under which the
// attitude counts as converged.
const DefaultAttitudeTolerance = 1.0

// Time-compression rate limits passed to WarpTo.
const (
	maxRailsRate   = 100000
	maxPhysicsRate = 4
)

// Frame wraps a kRPC reference frame.
type Frame struct {
	ref  *spacecenter.ReferenceFrame
	name string
}

// FrameName implements vehicle.Frame.
func (f *Frame) FrameName() string { return f.name }

// Provider talks to the active vessel of a kRPC server.
type Provider struct {
	client    *krpcgo.KRPCClient
	sc        *spacecenter.SpaceCenter
	vessel    *spacecenter.Vessel
	control   *spacecenter.Control
	autopilot *spacecenter.AutoPilot
	orbit     *spacecenter.Orbit
	body      *spacecenter.CelestialBody
	surface   *spacecenter.Flight // mean altitude
	inertial  *spacecenter.Flight // speed relative to the body

	tolerance float64
	logger    logging.Logger

	closeOnce sync.Once
}

var _ vehicle.Provider = (*Provider)(nil)

// Option customises a Provider.
type Option func(*Provider)

// WithAttitudeTolerance overrides DefaultAttitudeTolerance.
func WithAttitudeTolerance(deg float64) Option {
	return func(p *Provider) {
		if deg > 0 {
			p.tolerance = deg
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// Dial connects to the server and binds the active vessel. Connection
// failures wrap vehicle.ErrProviderUnavailable.
func Dial(ctx context.Context, cfg config.Provider, opts ...Option) (*Provider, error) {
	p := &Provider{tolerance: DefaultAttitudeTolerance, logger: logging.Noop()}
	for _, opt := range opts {
		opt(p)
	}

	p.client = krpcgo.NewKRPCClient(krpcgo.KRPCClientConfig{
		Host:       cfg.Host,
		RPCPort:    strconv.Itoa(cfg.RPCPort),
		StreamPort: strconv.Itoa(cfg.StreamPort),
		ClientName: cfg.ClientName,
	})
	if err := p.client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s:%d: %w: %w", cfg.Host, cfg.RPCPort, vehicle.ErrProviderUnavailable, err)
	}
	if err := p.bind(); err != nil {
		p.Close()
		return nil, fmt.Errorf("bind active vessel: %w: %w", vehicle.ErrProviderUnavailable, err)
	}
	p.logger.Info(ctx, "connected to kRPC server",
		logging.String("host", cfg.Host),
		logging.Int("rpc_port", cfg.RPCPort),
		logging.String("client_name", cfg.ClientName),
	)
	return p, nil
}

func (p *Provider) bind() error {
	var err error
	p.sc = spacecenter.New(p.client)
	if p.vessel, err = p.sc.ActiveVessel(); err != nil {
		return err
	}
	if p.control, err = p.vessel.Control(); err != nil {
		return err
	}
	if p.autopilot, err = p.vessel.AutoPilot(); err != nil {
		return err
	}
	if p.orbit, err = p.vessel.Orbit(); err != nil {
		return err
	}
	if p.body, err = p.orbit.Body(); err != nil {
		return err
	}
	surfaceFrame, err := p.vessel.SurfaceReferenceFrame()
	if err != nil {
		return err
	}
	if p.surface, err = p.vessel.Flight(surfaceFrame); err != nil {
		return err
	}
	bodyFrame, err := p.body.ReferenceFrame()
	if err != nil {
		return err
	}
	p.inertial, err = p.vessel.Flight(bodyFrame)
	return err
}

// Close disconnects from the server.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		if p.client == nil {
			return
		}
		if err := p.client.Close(); err != nil {
			p.logger.Warn(context.Background(), "closing kRPC client", logging.Err(err))
		}
	})
}

// normalize marks transport failures as provider unavailability.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", vehicle.ErrProviderUnavailable, err)
	}
	return err
}

func read[T float32 | float64](ctx context.Context, fn func() (T, error)) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, err := fn()
	if err != nil {
		return 0, normalize(err)
	}
	return float64(v), nil
}

// Read implements vehicle.Provider.
func (p *Provider) Read(ctx context.Context, s vehicle.Scalar) (float64, error) {
	switch s {
	case vehicle.ScalarUT:
		return read(ctx, p.sc.UT)
	case vehicle.ScalarMeanAltitude:
		return read(ctx, p.surface.MeanAltitude)
	case vehicle.ScalarApoapsisAltitude:
		return read(ctx, p.orbit.ApoapsisAltitude)
	case vehicle.ScalarSpeed:
		return read(ctx, p.inertial.Speed)
	case vehicle.ScalarMass:
		return read(ctx, p.vessel.Mass)
	default:
		return 0, fmt.Errorf("krpc: unsupported scalar %s", s)
	}
}

// SetThrottle implements vehicle.Provider.
func (p *Provider) SetThrottle(ctx context.Context, throttle float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return normalize(p.control.SetThrottle(float32(throttle)))
}

// SetSAS implements vehicle.Provider.
func (p *Provider) SetSAS(ctx context.Context, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return normalize(p.control.SetSAS(enabled))
}

// EngageAutopilot implements vehicle.Provider.
func (p *Provider) EngageAutopilot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return normalize(p.autopilot.Engage())
}

// SetPitchAndHeading implements vehicle.Provider.
func (p *Provider) SetPitchAndHeading(ctx context.Context, pitch, heading float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return normalize(p.autopilot.TargetPitchAndHeading(float32(pitch), float32(heading)))
}

// SetTargetDirection implements vehicle.Provider. frame must come from this
// provider.
func (p *Provider) SetTargetDirection(ctx context.Context, frame vehicle.Frame, direction vehicle.Vector3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, ok := frame.(*Frame)
	if !ok {
		return fmt.Errorf("krpc: frame %T was not issued by this provider", frame)
	}
	if err := p.autopilot.SetReferenceFrame(f.ref); err != nil {
		return normalize(err)
	}
	return normalize(p.autopilot.SetTargetDirection(tuple(direction)))
}

// AttitudeConverged implements vehicle.Provider using the autopilot's
// pointing error.
func (p *Provider) AttitudeConverged(ctx context.Context) (bool, error) {
	deg, err := read(ctx, p.autopilot.Error)
	if err != nil {
		return false, err
	}
	return deg <= p.tolerance, nil
}

// ActivateNextStage implements vehicle.Provider.
func (p *Provider) ActivateNextStage(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.control.ActivateNextStage()
	return normalize(err)
}

// ResourcesInDecoupleStage implements vehicle.Provider.
func (p *Provider) ResourcesInDecoupleStage(ctx context.Context, stage int) (vehicle.Resources, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := p.vessel.ResourcesInDecoupleStage(int32(stage), false)
	if err != nil {
		return nil, normalize(err)
	}
	return resources{res: res}, nil
}

type resources struct {
	res *spacecenter.Resources
}

func (r resources) Amount(ctx context.Context, kind string) (float64, error) {
	return read(ctx, func() (float32, error) { return r.res.Amount(kind) })
}

// Orbit implements vehicle.Provider.
func (p *Provider) Orbit(ctx context.Context) (vehicle.OrbitElements, error) {
	var out vehicle.OrbitElements
	var err error
	if out.GravitationalParameter, err = read(ctx, p.body.GravitationalParameter); err != nil {
		return vehicle.OrbitElements{}, err
	}
	if out.ApoapsisAltitude, err = read(ctx, p.orbit.ApoapsisAltitude); err != nil {
		return vehicle.OrbitElements{}, err
	}
	if out.ApoapsisRadius, err = read(ctx, p.orbit.Apoapsis); err != nil {
		return vehicle.OrbitElements{}, err
	}
	if out.SemiMajorAxis, err = read(ctx, p.orbit.SemiMajorAxis); err != nil {
		return vehicle.OrbitElements{}, err
	}
	if out.TimeToApoapsis, err = read(ctx, p.orbit.TimeToApoapsis); err != nil {
		return vehicle.OrbitElements{}, err
	}
	return out, nil
}

// Propulsion implements vehicle.Provider.
func (p *Provider) Propulsion(ctx context.Context) (vehicle.Propulsion, error) {
	var out vehicle.Propulsion
	var err error
	if out.AvailableThrust, err = read(ctx, p.vessel.AvailableThrust); err != nil {
		return vehicle.Propulsion{}, err
	}
	if out.SpecificImpulse, err = read(ctx, p.vessel.SpecificImpulse); err != nil {
		return vehicle.Propulsion{}, err
	}
	if out.Mass, err = read(ctx, p.vessel.Mass); err != nil {
		return vehicle.Propulsion{}, err
	}
	return out, nil
}

// AddManeuverNode implements vehicle.Provider.
func (p *Provider) AddManeuverNode(ctx context.Context, ut, prograde float64) (vehicle.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := p.control.AddNode(ut, float32(prograde), 0, 0)
	if err != nil {
		return nil, normalize(err)
	}
	ref, err := n.ReferenceFrame()
	if err != nil {
		return nil, normalize(err)
	}
	return &node{n: n, ut: ut, deltaV: prograde, frame: &Frame{ref: ref, name: "maneuver-node"}}, nil
}

// WarpTo implements vehicle.Provider.
func (p *Provider) WarpTo(ctx context.Context, ut float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return normalize(p.sc.WarpTo(ut, maxRailsRate, maxPhysicsRate))
}

type node struct {
	n      *spacecenter.Node
	ut     float64
	deltaV float64
	frame  *Frame
}

func (n *node) UT() float64                  { return n.ut }
func (n *node) DeltaV() float64              { return n.deltaV }
func (n *node) ReferenceFrame() vehicle.Frame { return n.frame }

func (n *node) RemainingBurnVector(ctx context.Context, frame vehicle.Frame) (vehicle.Vector3, error) {
	if err := ctx.Err(); err != nil {
		return vehicle.Vector3{}, err
	}
	f, ok := frame.(*Frame)
	if !ok {
		return vehicle.Vector3{}, fmt.Errorf("krpc: frame %T was not issued by this provider", frame)
	}
	v, err := n.n.RemainingBurnVector(f.ref)
	if err != nil {
		return vehicle.Vector3{}, normalize(err)
	}
	return vehicle.Vector3{X: v.A, Y: v.B, Z: v.C}, nil
}

func (n *node) Remove(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return normalize(n.n.Remove())
}

func tuple(v vehicle.Vector3) types.Tuple3[float64, float64, float64] {
	return types.Tuple3[float64, float64, float64]{A: v.X, B: v.Y, C: v.Z}
}
