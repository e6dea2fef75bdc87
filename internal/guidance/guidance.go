// Package guidance implements the gravity-turn pitch program flown during
// powered ascent.
package guidance

// GravityTurn pitches linearly from vertical at TurnStart to horizontal at
// TurnEnd (altitudes in metres).
type GravityTurn struct {
	TurnStart float64
	TurnEnd   float64
}

// TurnAngle returns the angle away from vertical in degrees. ok is false at
// or above TurnEnd, where the caller keeps its last commanded angle.
func (g GravityTurn) TurnAngle(altitude float64) (angle float64, ok bool) {
	if altitude >= g.TurnEnd {
		return 0, false
	}
	if altitude <= g.TurnStart {
		return 0, true
	}
	frac := (altitude - g.TurnStart) / (g.TurnEnd - g.TurnStart)
	return frac * 90, true
}

// TargetPitch returns the pitch above the horizon in degrees.
func (g GravityTurn) TargetPitch(altitude float64) (pitch float64, ok bool) {
	angle, ok := g.TurnAngle(altitude)
	if !ok {
		return 0, false
	}
	return 90 - angle, true
}

// Command is an attitude request for the autopilot.
type Command struct {
	Pitch   float64
	Heading float64
}

// Tracker follows a GravityTurn and only asks for a new attitude when the
// turn angle moved by more than Hysteresis degrees.
type Tracker struct {
	Turn       GravityTurn
	Hysteresis float64
	Heading    float64

	angle    float64
	commands int
}

// NewTracker returns a tracker starting vertical.
func NewTracker(turn GravityTurn, hysteresis, heading float64) *Tracker {
	return &Tracker{Turn: turn, Hysteresis: hysteresis, Heading: heading}
}

// Update evaluates the turn at altitude. It returns the command to issue
// and true when the attitude must be re-commanded.
func (t *Tracker) Update(altitude float64) (Command, bool) {
	angle, ok := t.Turn.TurnAngle(altitude)
	if !ok {
		return t.Current(), false
	}
	delta := angle - t.angle
	if delta < 0 {
		delta = -delta
	}
	if delta <= t.Hysteresis {
		return t.Current(), false
	}
	t.angle = angle
	t.commands++
	return t.Current(), true
}

// Current returns the attitude last commanded.
func (t *Tracker) Current() Command {
	return Command{Pitch: 90 - t.angle, Heading: t.Heading}
}

// TurnAngle returns the turn angle last commanded.
func (t *Tracker) TurnAngle() float64 { return t.angle }

// Commands returns how many times a new attitude was requested.
func (t *Tracker) Commands() int { return t.commands }
