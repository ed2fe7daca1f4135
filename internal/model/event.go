package model

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventStatus       EventKind = "status"
	EventAlertCrash   EventKind = "alert_crash"
	EventAlertFatigue EventKind = "alert_fatigue"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventStatus, EventAlertCrash, EventAlertFatigue:
		return true
	}
	return false
}

// StorageEvent is a runtime event buffered on the device until it is synced.
// Position is filled on read and reflects the event's index in the store's
// current insertion order.
type StorageEvent struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Synced    bool           `json:"synced"`
	Position  int            `json:"-"`
}

func NewStorageEvent(kind EventKind, payload map[string]any) StorageEvent {
	return StorageEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
