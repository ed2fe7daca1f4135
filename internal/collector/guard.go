package collector

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/speedwagon-io/helmet/internal/config"
	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
	"github.com/speedwagon-io/helmet/internal/model"
)

// RuntimeFaults counts boundary failures absorbed by SafeReader and
// SafeDetector. Safe for concurrent reads from the health endpoint.
type RuntimeFaults struct {
	sensorReadFailures atomic.Int64
	detectFailures     atomic.Int64
}

func (f *RuntimeFaults) Snapshot() model.RuntimeFaults {
	return model.RuntimeFaults{
		SensorReadFailures: f.sensorReadFailures.Load(),
		DetectFailures:     f.detectFailures.Load(),
	}
}

// SafeReader turns sensor errors into a zero snapshot so a failing IMU can
// never raise a crash alert.
func SafeReader(log *slog.Logger, reader SensorReader, faults *RuntimeFaults) func(context.Context) model.SensorSnapshot {
	return func(ctx context.Context) model.SensorSnapshot {
		snapshot, err := reader.ReadSnapshot(ctx)
		if err != nil {
			faults.sensorReadFailures.Add(1)
			log.Warn("sensor read failed",
				slog.String("sensor", reader.Name()),
				sl.Err(err),
			)
			return model.SensorSnapshot{}
		}
		return snapshot
	}
}

// SafeDetector turns detector errors into a non-drowsy verdict. With
// detection disabled the detector is never called.
func SafeDetector(log *slog.Logger, detector FatigueDetector, mode string, enabled bool, faults *RuntimeFaults) func(context.Context, model.SensorSnapshot) model.FatigueVerdict {
	return func(ctx context.Context, snapshot model.SensorSnapshot) model.FatigueVerdict {
		if !enabled || detector == nil {
			return model.SafeVerdict(mode)
		}

		verdict, err := detector.DetectFatigue(ctx, snapshot)
		if err != nil {
			faults.detectFailures.Add(1)
			log.Warn("fatigue detection failed", sl.Err(err))
			return model.SafeVerdict(mode)
		}
		if verdict.Mode == "" {
			verdict.Mode = mode
		}
		return verdict
	}
}

// SafeBoundaries assembles the cycle boundaries from the runtime adapters.
func SafeBoundaries(
	log *slog.Logger,
	reader SensorReader,
	detector FatigueDetector,
	cfg config.RuntimeConfig,
	faults *RuntimeFaults,
	publish func(ctx context.Context, event Event) bool,
) Boundaries {
	return Boundaries{
		ReadSnapshot:  SafeReader(log, reader, faults),
		DetectFatigue: SafeDetector(log, detector, cfg.DetectorMode, cfg.Features.FatigueDetection(), faults),
		PublishEvent:  publish,
	}
}
