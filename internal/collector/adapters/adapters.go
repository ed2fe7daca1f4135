package adapters

import (
	"fmt"
	"log/slog"

	"github.com/speedwagon-io/helmet/internal/collector"
	"github.com/speedwagon-io/helmet/internal/config"
)

// Sensors is implemented by every adapter: one value serves as both the
// reader and the detector boundary.
type Sensors interface {
	collector.SensorReader
	collector.FatigueDetector
}

func New(log *slog.Logger, cfg config.RuntimeConfig) (Sensors, error) {
	switch cfg.Adapter {
	case "http_bridge":
		return NewHTTPBridge(log, cfg.BridgeURL, cfg.BridgeTimeout, cfg.DetectorMode), nil
	case "idle":
		return NewIdle(cfg.DetectorMode), nil
	default:
		return nil, fmt.Errorf("unknown adapter %q", cfg.Adapter)
	}
}
