package telemetry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
	"github.com/signalsfoundry/ascent-controller/internal/vehicle/fake"
	"github.com/signalsfoundry/ascent-controller/timectrl"
)

func TestRecorderDecimation(t *testing.T) {
	rec := NewRecorder(0.5, nil)
	for i := 0; i < 1000; i++ {
		rec.Record(Sample{Timestamp: float64(i) / 100})
	}
	got := rec.History().Len()
	if got < 19 || got > 21 {
		t.Fatalf("recorded = %d, want 20 (+/-1)", got)
	}
}

func TestRecorderAlwaysKeepsFirstSample(t *testing.T) {
	rec := NewRecorder(10, nil)
	if !rec.Record(Sample{Timestamp: 1234}) {
		t.Fatalf("first sample was not recorded")
	}
	if rec.Record(Sample{Timestamp: 1235}) {
		t.Fatalf("sample inside the interval was recorded")
	}
	if last, ok := rec.LastRecorded(); !ok || last != 1234 {
		t.Fatalf("LastRecorded() = %v, %v, want 1234, true", last, ok)
	}
}

func TestHistoryCopiesAndSince(t *testing.T) {
	h := NewHistory()
	rec := NewRecorder(0, h)
	for i := 0; i < 5; i++ {
		rec.Record(Sample{Timestamp: float64(i), Altitude: float64(i) * 100, Speed: float64(i) * 10, Mass: 100 - float64(i)})
	}

	samples := h.Samples()
	samples[0].Altitude = -1
	if h.Samples()[0].Altitude != 0 {
		t.Fatalf("Samples() exposed internal storage")
	}

	since := h.Since(2)
	if len(since) != 2 || since[0].Timestamp != 3 {
		t.Fatalf("Since(2) = %+v, want timestamps 3 and 4", since)
	}

	sum := h.Summarize()
	if sum.Samples != 5 || sum.Duration != 4 || sum.MaxAltitude != 400 || sum.MaxSpeed != 40 || sum.MassSpent != 4 {
		t.Fatalf("Summarize() = %+v", sum)
	}
	if (NewHistory().Summarize() != Summary{}) {
		t.Fatalf("empty history summary should be zero")
	}
}

type countingMetrics struct {
	observed, recorded int
}

func (m *countingMetrics) ObserveSample(Sample) { m.observed++ }
func (m *countingMetrics) IncSamplesRecorded()  { m.recorded++ }

func TestSamplerPollReadsEveryStream(t *testing.T) {
	ctx := context.Background()
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	v := fake.New(clock, fake.DefaultProfile())
	metrics := &countingMetrics{}

	s, err := NewSampler(ctx, v, 5, "SolidFuel", NewRecorder(0.5, nil), WithMetricsRecorder(metrics))
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	clock.Advance(30 * time.Second)

	sample, err := s.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if sample.Timestamp != 30 || sample.Altitude != 15000 {
		t.Fatalf("sample = %+v, want t=30 alt=15000", sample)
	}
	if math.Abs(sample.ResourceRemaining-50) > 1e-9 {
		t.Fatalf("resource = %v, want 50", sample.ResourceRemaining)
	}
	if _, err := s.Tick(ctx); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if metrics.observed != 2 || metrics.recorded != 1 {
		t.Fatalf("metrics observed=%d recorded=%d, want 2 and 1", metrics.observed, metrics.recorded)
	}
	if got := v.Commands().ResourceHandleReq; got != 1 {
		t.Fatalf("resource handle acquired %d times, want 1", got)
	}
}

func TestSamplerReadFailureIsTelemetryError(t *testing.T) {
	ctx := context.Background()
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	v := fake.New(clock, fake.DefaultProfile())
	cause := errors.New("stream closed")
	v.FailRead(vehicle.ScalarSpeed, 0, cause)

	s, err := NewSampler(ctx, v, 5, "SolidFuel", nil)
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	_, err = s.Poll(ctx)
	if !errors.Is(err, vehicle.ErrTelemetryUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("Poll() = %v, want telemetry error wrapping cause", err)
	}
}

func TestNewSamplerResourceFailure(t *testing.T) {
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	v := fake.New(clock, fake.DefaultProfile())
	v.FailResources(errors.New("no such stage"))
	if _, err := NewSampler(context.Background(), v, 9, "SolidFuel", nil); !errors.Is(err, vehicle.ErrTelemetryUnavailable) {
		t.Fatalf("NewSampler() = %v, want ErrTelemetryUnavailable", err)
	}
}

// rewindingProvider reports a scripted sequence of UT values.
type rewindingProvider struct {
	*fake.Vessel
	uts []float64
}

func (p *rewindingProvider) Read(ctx context.Context, s vehicle.Scalar) (float64, error) {
	if s == vehicle.ScalarUT {
		ut := p.uts[0]
		p.uts = p.uts[1:]
		return ut, nil
	}
	return p.Vessel.Read(ctx, s)
}

func TestSamplerClockRegression(t *testing.T) {
	ctx := context.Background()
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	p := &rewindingProvider{Vessel: fake.New(clock, fake.DefaultProfile()), uts: []float64{10, 10, 9}}

	s, err := NewSampler(ctx, p, 5, "SolidFuel", nil)
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.Tick(ctx); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	_, err = s.Tick(ctx)
	if !errors.Is(err, ErrClockRegression) || !errors.Is(err, vehicle.ErrTelemetryUnavailable) {
		t.Fatalf("Tick() = %v, want clock regression telemetry error", err)
	}
	if last, _ := s.Last(); last.Timestamp != 10 {
		t.Fatalf("Last().Timestamp = %v, want 10", last.Timestamp)
	}
	if s.History().Len() != 2 {
		t.Fatalf("history len = %d, want 2", s.History().Len())
	}
}
