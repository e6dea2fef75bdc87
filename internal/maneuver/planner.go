// Package maneuver plans and flies the circularization burn at apoapsis.
package maneuver

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
)

// ErrPlanningInfeasible is returned when no usable burn can be computed.
var ErrPlanningInfeasible = errors.New("planning infeasible")

// BurnPlan is computed once from a single orbit/propulsion snapshot.
type BurnPlan struct {
	DeltaV    float64 `json:"deltaV"`    // m/s, prograde
	BurnTime  float64 `json:"burnTime"`  // s
	NodeTime  float64 `json:"nodeTime"`  // UT of the node
	StartTime float64 `json:"startTime"` // UT to light the engine
}

// Plan computes the circularization burn at apoapsis: vis-viva for the
// delta-v and the rocket equation for the burn time.
func Plan(orbit vehicle.OrbitElements, prop vehicle.Propulsion, now, standardGravity float64) (BurnPlan, error) {
	if prop.AvailableThrust <= 0 {
		return BurnPlan{}, fmt.Errorf("%w: no available thrust", ErrPlanningInfeasible)
	}
	if prop.SpecificImpulse <= 0 {
		return BurnPlan{}, fmt.Errorf("%w: no specific impulse", ErrPlanningInfeasible)
	}
	if standardGravity <= 0 {
		return BurnPlan{}, fmt.Errorf("%w: standard gravity %v", ErrPlanningInfeasible, standardGravity)
	}

	mu := orbit.GravitationalParameter
	r := orbit.ApoapsisRadius
	a1 := orbit.SemiMajorAxis
	v1 := math.Sqrt(mu * ((2 / r) - (1 / a1)))
	v2 := math.Sqrt(mu * ((2 / r) - (1 / r)))
	deltaV := v2 - v1

	ve := prop.SpecificImpulse * standardGravity
	m0 := prop.Mass
	m1 := m0 / math.Exp(deltaV/ve)
	flowRate := prop.AvailableThrust / ve
	burnTime := (m0 - m1) / flowRate

	nodeTime := now + orbit.TimeToApoapsis
	plan := BurnPlan{
		DeltaV:    deltaV,
		BurnTime:  burnTime,
		NodeTime:  nodeTime,
		StartTime: nodeTime - burnTime/2,
	}
	if !finite(plan.DeltaV, plan.BurnTime, plan.StartTime) {
		return BurnPlan{}, fmt.Errorf("%w: non-finite plan %+v", ErrPlanningInfeasible, plan)
	}
	return plan, nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
