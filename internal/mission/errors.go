package mission

import (
	"context"
	"errors"

	"github.com/signalsfoundry/ascent-controller/internal/maneuver"
	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
	"github.com/signalsfoundry/ascent-controller/timectrl"
)

// Failure kinds reported in logs, metrics and Status.
const (
	FailureTelemetryUnavailable = "telemetry_unavailable"
	FailurePlanningInfeasible   = "planning_infeasible"
	FailureActuation            = "actuation_failure"
	FailureStalled              = "stalled"
	FailureCanceled             = "canceled"
	FailureUnknown              = "unknown"
)

// FailureKind maps a mission error to a stable label. It returns "" for nil.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCanceled
	case errors.Is(err, timectrl.ErrStalled):
		return FailureStalled
	case errors.Is(err, vehicle.ErrTelemetryUnavailable):
		return FailureTelemetryUnavailable
	case errors.Is(err, maneuver.ErrPlanningInfeasible):
		return FailurePlanningInfeasible
	case errors.Is(err, vehicle.ErrActuationFailure):
		return FailureActuation
	default:
		return FailureUnknown
	}
}
