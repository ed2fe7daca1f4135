package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env          string             `yaml:"env" env-default:"prod"`
	Device       DeviceConfig       `yaml:"device"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Storage      StorageConfig      `yaml:"storage"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
	Health       HealthConfig       `yaml:"health"`
	Log          LogConfig          `yaml:"log"`
}

type DeviceConfig struct {
	ID string `yaml:"id" env:"DEVICE_ID" env-default:"helmet_01"`
}

type RuntimeConfig struct {
	Adapter         string        `yaml:"adapter" env-default:"http_bridge"`
	BridgeURL       string        `yaml:"bridge_url" env-default:"http://127.0.0.1:8765"`
	BridgeTimeout   time.Duration `yaml:"bridge_timeout" env-default:"200ms"`
	TickInterval    time.Duration `yaml:"tick_interval" env-default:"50ms"`
	CrashThresholdG float64       `yaml:"crash_threshold_g" env-default:"2.5"`
	DetectorMode    string        `yaml:"detector_mode" env-default:"heuristic-ear-perclos"`
	Features        FeatureFlags  `yaml:"features"`
}

// FeatureFlags gate the optional runtime behaviours of the monitoring loop.
// They are expressed as opt-outs because cleanenv treats a false value as
// unset and would restore a true default.
type FeatureFlags struct {
	DisableFatigueDetection bool `yaml:"disable_fatigue_detection"`
	DisableAlertPublish     bool `yaml:"disable_alert_publish"`
	DisableStatusTelemetry  bool `yaml:"disable_status_telemetry"`
}

func (f FeatureFlags) FatigueDetection() bool { return !f.DisableFatigueDetection }
func (f FeatureFlags) AlertPublish() bool     { return !f.DisableAlertPublish }
func (f FeatureFlags) StatusTelemetry() bool  { return !f.DisableStatusTelemetry }

type HealthConfig struct {
	Address string `yaml:"address" env-default:":8080"`
}

type LogConfig struct {
	Level      string `yaml:"level" env-default:"info"`
	Format     string `yaml:"format" env-default:"json"`
	File       string `yaml:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env-default:"10"`
	MaxBackups int    `yaml:"max_backups" env-default:"3"`
	MaxAgeDays int    `yaml:"max_age_days" env-default:"7"`
}

func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	if configPath == "" {
		configPath = "config/config.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, &LoadError{Path: configPath, Err: err}
	}

	// A .env beside the config file supplies secrets such as the storage key.
	envFile := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, &LoadError{Path: envFile, Err: err}
		}
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, &LoadError{Path: configPath, Err: err}
	}

	if err := cfg.Connectivity.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return "failed to read config " + e.Path + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
