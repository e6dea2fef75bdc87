package vehicle

import (
	"errors"
	"testing"
)

func TestTelemetryErrorWrapsOnce(t *testing.T) {
	cause := errors.New("socket closed")
	err := TelemetryError("apoapsis_altitude", cause)
	if !errors.Is(err, ErrTelemetryUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("TelemetryError lost its chain: %v", err)
	}
	if again := TelemetryError("apoapsis_altitude", err); again != err {
		t.Fatalf("TelemetryError re-wrapped an already classified error: %v", again)
	}
	if TelemetryError("x", nil) != nil {
		t.Fatalf("TelemetryError(nil) should be nil")
	}
}

func TestActuationErrorWrapsOnce(t *testing.T) {
	cause := errors.New("rejected")
	err := ActuationError("set throttle", cause)
	if !errors.Is(err, ErrActuationFailure) || !errors.Is(err, cause) {
		t.Fatalf("ActuationError lost its chain: %v", err)
	}
	if errors.Is(err, ErrTelemetryUnavailable) {
		t.Fatalf("actuation error classified as telemetry")
	}
	if ActuationError("x", nil) != nil {
		t.Fatalf("ActuationError(nil) should be nil")
	}
}

func TestScalarString(t *testing.T) {
	if got := ScalarApoapsisAltitude.String(); got != "apoapsis_altitude" {
		t.Fatalf("String() = %q, want apoapsis_altitude", got)
	}
	if got := Scalar(99).String(); got != "scalar(99)" {
		t.Fatalf("String() = %q, want scalar(99)", got)
	}
}
