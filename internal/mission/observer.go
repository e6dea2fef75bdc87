package mission

import (
	"context"
	"time"

	"github.com/signalsfoundry/ascent-controller/internal/logging"
	"github.com/signalsfoundry/ascent-controller/internal/maneuver"
	"github.com/signalsfoundry/ascent-controller/internal/telemetry"
)

// Observer is notified of mission events. Implementations must not block.
type Observer interface {
	PhaseChanged(ctx context.Context, from, to Phase, spent time.Duration)
	TriggerFired(ctx context.Context, name string, sample telemetry.Sample)
	AttitudeCommanded(ctx context.Context, pitch, heading float64)
	BurnPlanned(ctx context.Context, plan maneuver.BurnPlan)
	MissionFailed(ctx context.Context, kind string, err error)
}

// Observers fans events out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) PhaseChanged(ctx context.Context, from, to Phase, spent time.Duration) {
	for _, o := range m {
		o.PhaseChanged(ctx, from, to, spent)
	}
}

func (m multiObserver) TriggerFired(ctx context.Context, name string, sample telemetry.Sample) {
	for _, o := range m {
		o.TriggerFired(ctx, name, sample)
	}
}

func (m multiObserver) AttitudeCommanded(ctx context.Context, pitch, heading float64) {
	for _, o := range m {
		o.AttitudeCommanded(ctx, pitch, heading)
	}
}

func (m multiObserver) BurnPlanned(ctx context.Context, plan maneuver.BurnPlan) {
	for _, o := range m {
		o.BurnPlanned(ctx, plan)
	}
}

func (m multiObserver) MissionFailed(ctx context.Context, kind string, err error) {
	for _, o := range m {
		o.MissionFailed(ctx, kind, err)
	}
}

// LogObserver writes mission events to a logger.
type LogObserver struct {
	Logger logging.Logger
}

// PhaseChanged implements Observer.
func (l LogObserver) PhaseChanged(ctx context.Context, from, to Phase, spent time.Duration) {
	l.Logger.Info(ctx, "phase transition",
		logging.String("from", from.String()),
		logging.String("to", to.String()),
		logging.Duration("spent", spent),
	)
}

// TriggerFired implements Observer.
func (l LogObserver) TriggerFired(ctx context.Context, name string, s telemetry.Sample) {
	l.Logger.Info(ctx, "trigger fired",
		logging.String("trigger", name),
		logging.Float("ut", s.Timestamp),
		logging.Float("altitude", s.Altitude),
		logging.Float("apoapsis", s.Apoapsis),
	)
}

// AttitudeCommanded implements Observer.
func (l LogObserver) AttitudeCommanded(ctx context.Context, pitch, heading float64) {
	l.Logger.Debug(ctx, "attitude commanded", logging.Float("pitch", pitch), logging.Float("heading", heading))
}

// BurnPlanned implements Observer.
func (l LogObserver) BurnPlanned(ctx context.Context, plan maneuver.BurnPlan) {
	l.Logger.Info(ctx, "circularization burn planned",
		logging.Float("delta_v", plan.DeltaV),
		logging.Float("burn_time_s", plan.BurnTime),
		logging.Float("node_ut", plan.NodeTime),
		logging.Float("start_ut", plan.StartTime),
	)
}

// MissionFailed implements Observer.
func (l LogObserver) MissionFailed(ctx context.Context, kind string, err error) {
	l.Logger.Error(ctx, "mission aborted", logging.String("kind", kind), logging.Err(err))
}
