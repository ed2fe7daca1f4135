package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidStorage = errors.New("invalid storage policy")

type StorageConfig struct {
	Path               string        `yaml:"path" env-default:"/var/lib/helmet/events.db"`
	RetentionHours     int           `yaml:"retention_hours" env-default:"24"`
	MaxItems           int           `yaml:"max_items" env-default:"500"`
	CloudSyncEnabled   bool          `yaml:"cloud_sync_enabled" env-default:"false"`
	EncryptionRequired bool          `yaml:"encryption_required" env-default:"false"`
	EncryptionKey      string        `yaml:"encryption_key" env:"STORAGE_ENCRYPTION_KEY"`
	ConflictPolicy     string        `yaml:"conflict_policy" env-default:"last-write-wins"`
	SyncInterval       time.Duration `yaml:"sync_interval" env-default:"30s"`
}

func (c StorageConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c StorageConfig) Validate() error {
	switch {
	case c.RetentionHours <= 0:
		return fmt.Errorf("%w: retention_hours must be positive", ErrInvalidStorage)
	case c.MaxItems <= 0:
		return fmt.Errorf("%w: max_items must be positive", ErrInvalidStorage)
	case c.SyncInterval <= 0:
		return fmt.Errorf("%w: sync_interval must be positive", ErrInvalidStorage)
	case c.EncryptionRequired && c.EncryptionKey == "":
		return fmt.Errorf("%w: encryption_required set without encryption_key", ErrInvalidStorage)
	}

	switch strings.ToLower(strings.TrimSpace(c.ConflictPolicy)) {
	case "local-wins", "remote-wins", "last-write-wins":
		return nil
	default:
		return fmt.Errorf("%w: unsupported conflict_policy %q", ErrInvalidStorage, c.ConflictPolicy)
	}
}
