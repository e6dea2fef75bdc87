package vehicle

import (
	"errors"
	"fmt"
)

// Normalized provider errors. Adapters wrap every vendor failure in one of
// these so the controller can classify it with errors.Is.
var (
	// ErrProviderUnavailable is returned by adapters when the provider cannot
	// be reached at all.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrTelemetryUnavailable marks a failed telemetry read.
	ErrTelemetryUnavailable = errors.New("telemetry unavailable")
	// ErrActuationFailure marks a command rejected by the provider.
	ErrActuationFailure = errors.New("actuation failure")
)

// TelemetryError wraps err as a telemetry failure for the named stream.
func TelemetryError(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTelemetryUnavailable) {
		return err
	}
	return fmt.Errorf("read %s: %w: %w", what, ErrTelemetryUnavailable, err)
}

// ActuationError wraps err as a failure of the named command.
func ActuationError(command string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrActuationFailure) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", command, ErrActuationFailure, err)
}
