// Package telemetry polls the vehicle provider for the scalar streams the
// controller flies on and keeps a decimated, append-only history of samples
// for later charting.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
)

// ErrClockRegression is returned when the provider's universal time goes
// backwards between two polls.
var ErrClockRegression = errors.New("universal time went backwards")

// Sample is one timestamped telemetry reading. Values are copied, never shared.
type Sample struct {
	Timestamp         float64 `json:"timestamp"` // provider UT, seconds
	Altitude          float64 `json:"altitude"`  // m
	Apoapsis          float64 `json:"apoapsis"`  // m
	Speed             float64 `json:"speed"`     // m/s
	Mass              float64 `json:"mass"`      // kg
	ResourceRemaining float64 `json:"resourceRemaining"`
}

// MetricsRecorder receives sampler activity.
type MetricsRecorder interface {
	ObserveSample(s Sample)
	IncSamplesRecorded()
}

// History is an append-only ordered sequence of recorded samples. It is safe
// for one writer and any number of readers.
type History struct {
	mu      sync.RWMutex
	samples []Sample
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

func (h *History) append(s Sample) {
	h.mu.Lock()
	h.samples = append(h.samples, s)
	h.mu.Unlock()
}

// Samples returns a copy of every recorded sample in order.
func (h *History) Samples() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Since returns a copy of the samples with Timestamp > ts.
func (h *History) Since(ts float64) []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, 0)
	for _, s := range h.samples {
		if s.Timestamp > ts {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of recorded samples.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}

// Summary condenses a history for the end-of-mission report.
type Summary struct {
	Samples     int     `json:"samples"`
	Duration    float64 `json:"duration"`
	MaxAltitude float64 `json:"maxAltitude"`
	MaxSpeed    float64 `json:"maxSpeed"`
	MassSpent   float64 `json:"massSpent"`
}

// Summarize computes a Summary over the recorded samples.
func (h *History) Summarize() Summary {
	samples := h.Samples()
	if len(samples) == 0 {
		return Summary{}
	}
	alt := make([]float64, len(samples))
	speed := make([]float64, len(samples))
	for i, s := range samples {
		alt[i] = s.Altitude
		speed[i] = s.Speed
	}
	first, last := samples[0], samples[len(samples)-1]
	return Summary{
		Samples:     len(samples),
		Duration:    last.Timestamp - first.Timestamp,
		MaxAltitude: floats.Max(alt),
		MaxSpeed:    floats.Max(speed),
		MassSpent:   first.Mass - last.Mass,
	}
}

// Recorder decimates samples into a History: a sample is kept only when at
// least Interval seconds have passed since the last kept one.
type Recorder struct {
	Interval float64

	history      *History
	lastRecorded float64
	recorded     bool
	metrics      MetricsRecorder
}

// NewRecorder constructs a Recorder writing into h.
func NewRecorder(interval float64, h *History) *Recorder {
	if h == nil {
		h = NewHistory()
	}
	return &Recorder{Interval: interval, history: h}
}

// Record appends s to the history if the decimation interval has elapsed and
// reports whether it did.
func (r *Recorder) Record(s Sample) bool {
	if r.recorded && s.Timestamp-r.lastRecorded < r.Interval {
		return false
	}
	r.history.append(s)
	r.lastRecorded = s.Timestamp
	r.recorded = true
	if r.metrics != nil {
		r.metrics.IncSamplesRecorded()
	}
	return true
}

// LastRecorded returns the timestamp of the last recorded sample.
func (r *Recorder) LastRecorded() (float64, bool) {
	return r.lastRecorded, r.recorded
}

// History returns the history the recorder writes to.
func (r *Recorder) History() *History { return r.history }

// Sampler reads telemetry from a provider once per control-loop tick.
type Sampler struct {
	provider vehicle.Provider
	booster  vehicle.Resources
	resource string
	recorder *Recorder
	metrics  MetricsRecorder

	last    Sample
	hasLast bool
}

// Option customises a Sampler.
type Option func(*Sampler)

// WithMetricsRecorder attaches an optional metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Sampler) {
		s.metrics = m
	}
}

// NewSampler builds a sampler. The resource handle of the booster stage is
// acquired once here and then read on every poll.
func NewSampler(ctx context.Context, p vehicle.Provider, boosterStage int, resource string, rec *Recorder, opts ...Option) (*Sampler, error) {
	res, err := p.ResourcesInDecoupleStage(ctx, boosterStage)
	if err != nil {
		return nil, vehicle.TelemetryError(fmt.Sprintf("resources of stage %d", boosterStage), err)
	}
	if rec == nil {
		rec = NewRecorder(0, nil)
	}
	s := &Sampler{
		provider: p,
		booster:  res,
		resource: resource,
		recorder: rec,
	}
	for _, opt := range opts {
		opt(s)
	}
	rec.metrics = s.metrics
	return s, nil
}

// Poll reads every stream once and returns the sample. Any failure is a
// telemetry failure.
func (s *Sampler) Poll(ctx context.Context) (Sample, error) {
	var out Sample
	reads := []struct {
		scalar vehicle.Scalar
		dst    *float64
	}{
		{vehicle.ScalarUT, &out.Timestamp},
		{vehicle.ScalarMeanAltitude, &out.Altitude},
		{vehicle.ScalarApoapsisAltitude, &out.Apoapsis},
		{vehicle.ScalarSpeed, &out.Speed},
		{vehicle.ScalarMass, &out.Mass},
	}
	for _, r := range reads {
		v, err := s.provider.Read(ctx, r.scalar)
		if err != nil {
			return Sample{}, vehicle.TelemetryError(r.scalar.String(), err)
		}
		*r.dst = v
	}
	amount, err := s.booster.Amount(ctx, s.resource)
	if err != nil {
		return Sample{}, vehicle.TelemetryError(s.resource, err)
	}
	out.ResourceRemaining = amount

	if s.hasLast && out.Timestamp < s.last.Timestamp {
		return Sample{}, fmt.Errorf("%w: %w (%.3f < %.3f)", vehicle.ErrTelemetryUnavailable, ErrClockRegression, out.Timestamp, s.last.Timestamp)
	}
	s.last = out
	s.hasLast = true
	if s.metrics != nil {
		s.metrics.ObserveSample(out)
	}
	return out, nil
}

// Tick polls and records in one step.
func (s *Sampler) Tick(ctx context.Context) (Sample, error) {
	sample, err := s.Poll(ctx)
	if err != nil {
		return Sample{}, err
	}
	s.recorder.Record(sample)
	return sample, nil
}

// Last returns the most recent polled sample.
func (s *Sampler) Last() (Sample, bool) {
	return s.last, s.hasLast
}

// History returns the recorded history.
func (s *Sampler) History() *History { return s.recorder.History() }
