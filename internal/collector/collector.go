package collector

import (
	"context"

	"github.com/speedwagon-io/helmet/internal/model"
)

// SensorReader reads one IMU/camera snapshot. Hardware access lives behind
// this interface.
type SensorReader interface {
	ReadSnapshot(ctx context.Context) (model.SensorSnapshot, error)
	Name() string
	Close() error
}

// FatigueDetector wraps the external EAR/PERCLOS heuristic.
type FatigueDetector interface {
	DetectFatigue(ctx context.Context, snapshot model.SensorSnapshot) (model.FatigueVerdict, error)
}

// HealthReporter is implemented by sensor adapters that can describe the
// state of their devices for status telemetry.
type HealthReporter interface {
	SensorHealth(ctx context.Context) map[string]any
}
