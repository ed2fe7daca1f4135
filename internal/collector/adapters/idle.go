package adapters

import (
	"context"

	"github.com/speedwagon-io/helmet/internal/model"
)

// Idle stands in for real sensors on a bench: the helmet is at rest and the
// rider is alert.
type Idle struct {
	mode string
}

func NewIdle(mode string) *Idle {
	return &Idle{mode: mode}
}

func (i *Idle) Name() string { return "idle" }

func (i *Idle) Close() error { return nil }

func (i *Idle) ReadSnapshot(context.Context) (model.SensorSnapshot, error) {
	return model.SensorSnapshot{}, nil
}

func (i *Idle) DetectFatigue(context.Context, model.SensorSnapshot) (model.FatigueVerdict, error) {
	return model.SafeVerdict(i.mode), nil
}

func (i *Idle) SensorHealth(context.Context) map[string]any {
	return map[string]any{"imu": "simulated", "camera": "simulated"}
}
