package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConnectivity = errors.New("invalid connectivity configuration")

var supportedProtocols = map[string]struct{}{
	"mqtt":     {},
	"ble":      {},
	"usb":      {},
	"wifi":     {},
	"cellular": {},
}

type ConnectivityConfig struct {
	Protocol              string        `yaml:"protocol" env-default:"mqtt"`
	Broker                string        `yaml:"broker" env:"MQTT_BROKER" env-default:"test.mosquitto.org"`
	Port                  int           `yaml:"port" env-default:"1883"`
	ClientID              string        `yaml:"client_id"`
	Username              string        `yaml:"username" env:"MQTT_USERNAME"`
	Password              string        `yaml:"password" env:"MQTT_PASSWORD"`
	TelemetryInterval     time.Duration `yaml:"telemetry_interval" env-default:"1s"`
	MaxAlertLatency       time.Duration `yaml:"max_alert_latency" env-default:"2s"`
	StatusQoS             int           `yaml:"status_qos" env-default:"0"`
	// AlertQoS cannot be set to 0 from YAML: cleanenv treats the zero value
	// as unset and restores the default of 1.
	AlertQoS              int           `yaml:"alert_qos" env-default:"1"`
	OfflineQueueEnabled   bool          `yaml:"offline_queue_enabled" env-default:"false"`
	OfflineQueueMaxItems  int           `yaml:"offline_queue_max_items" env-default:"100"`
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay" env-default:"500ms"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay" env-default:"8s"`
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts" env-default:"5"`
	ReconnectJitter       float64       `yaml:"reconnect_jitter" env-default:"0"`
}

// DefaultConnectivity mirrors the env-default tags for callers that build a
// config in code.
func DefaultConnectivity() ConnectivityConfig {
	return ConnectivityConfig{
		Protocol:              "mqtt",
		Broker:                "test.mosquitto.org",
		Port:                  1883,
		TelemetryInterval:     time.Second,
		MaxAlertLatency:       2 * time.Second,
		StatusQoS:             0,
		AlertQoS:              1,
		OfflineQueueEnabled:   false,
		OfflineQueueMaxItems:  100,
		ReconnectInitialDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:     8 * time.Second,
		MaxReconnectAttempts:  5,
	}
}

func (c ConnectivityConfig) Valid() bool {
	return c.Validate() == nil
}

func (c ConnectivityConfig) Validate() error {
	switch {
	case c.TelemetryInterval <= 0:
		return invalid("telemetry_interval must be positive")
	case c.MaxAlertLatency <= 0:
		return invalid("max_alert_latency must be positive")
	case c.Port <= 0:
		return invalid("port must be positive")
	case !validQoS(c.StatusQoS):
		return invalid("status_qos must be 0 or 1, got %d", c.StatusQoS)
	case !validQoS(c.AlertQoS):
		return invalid("alert_qos must be 0 or 1, got %d", c.AlertQoS)
	case c.ReconnectInitialDelay <= 0 || c.ReconnectMaxDelay <= 0:
		return invalid("reconnect delays must be positive")
	case c.ReconnectInitialDelay > c.ReconnectMaxDelay:
		return invalid("reconnect_initial_delay %s exceeds reconnect_max_delay %s",
			c.ReconnectInitialDelay, c.ReconnectMaxDelay)
	case c.MaxReconnectAttempts <= 0:
		return invalid("max_reconnect_attempts must be positive")
	case c.OfflineQueueMaxItems <= 0:
		return invalid("offline_queue_max_items must be positive")
	case c.ReconnectJitter < 0 || c.ReconnectJitter >= 1:
		return invalid("reconnect_jitter must be in [0, 1)")
	}

	if _, ok := supportedProtocols[strings.ToLower(c.Protocol)]; !ok {
		return invalid("unsupported protocol %q", c.Protocol)
	}

	return nil
}

func (c ConnectivityConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Broker, c.Port)
}

func validQoS(q int) bool {
	return q == 0 || q == 1
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConnectivity, fmt.Sprintf(format, args...))
}
