package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	TopicTelemetry = "smarthelmet/v1/telemetry"
	TopicAlerts    = "smarthelmet/v1/alerts"
	TopicEvents    = "smarthelmet/v1/events"
)

const (
	MessageTypeAlert  = "ALERT"
	MessageTypeStatus = "STATUS"
	MessageTypeEvent  = "EVENT"
)

type AlertKind string

const (
	AlertCrash   AlertKind = "CRASH"
	AlertFatigue AlertKind = "FATIGUE"
)

type AlertMessage struct {
	DeviceID  string    `json:"device_id"`
	Type      string    `json:"type"`
	Alert     AlertKind `json:"alert"`
	Value     float64   `json:"value"`
	Timestamp float64   `json:"timestamp"`
}

func NewAlertMessage(deviceID string, kind AlertKind, value float64, at time.Time) AlertMessage {
	return AlertMessage{
		DeviceID:  deviceID,
		Type:      MessageTypeAlert,
		Alert:     kind,
		Value:     value,
		Timestamp: EpochSeconds(at),
	}
}

type StatusMessage struct {
	DeviceID      string         `json:"device_id"`
	Type          string         `json:"type"`
	Perclos       float64        `json:"perclos"`
	GForce        float64        `json:"g_force"`
	Timestamp     float64        `json:"timestamp"`
	SensorHealth  map[string]any `json:"sensor_health,omitempty"`
	PowerProfile  map[string]any `json:"power_profile,omitempty"`
	AIMetrics     *AIMetrics     `json:"ai_metrics,omitempty"`
	RuntimeHealth *RuntimeHealth `json:"runtime_health,omitempty"`
}

type AIMetrics struct {
	Mode       string  `json:"mode"`
	LatencyMs  float64 `json:"latency_ms"`
	FalseAlert bool    `json:"false_alert"`
}

type RuntimeHealth struct {
	Telemetry     TransportHealth `json:"telemetry"`
	FaultCounters RuntimeFaults   `json:"fault_counters"`
}

type RuntimeFaults struct {
	SensorReadFailures int64 `json:"sensor_read_failures"`
	DetectFailures     int64 `json:"detect_failures"`
}

// EventRecord is the wire shape of a buffered StorageEvent replayed to the
// collector after connectivity returns.
type EventRecord struct {
	DeviceID  string         `json:"device_id"`
	Type      string         `json:"type"`
	EventID   string         `json:"event_id"`
	EventType EventKind      `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp float64        `json:"timestamp"`
}

func NewEventRecord(deviceID string, event StorageEvent) EventRecord {
	return EventRecord{
		DeviceID:  deviceID,
		Type:      MessageTypeEvent,
		EventID:   event.ID,
		EventType: event.Kind,
		Payload:   event.Payload,
		Timestamp: EpochSeconds(event.Timestamp),
	}
}

// OutboundMessage is an offline-queue item held while the broker is unreachable.
type OutboundMessage struct {
	ID       string
	Topic    string
	Payload  []byte
	QoS      byte
	QueuedAt time.Time
}

func NewOutboundMessage(topic string, payload []byte, qos byte) OutboundMessage {
	return OutboundMessage{
		ID:       uuid.New().String(),
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		QueuedAt: time.Now().UTC(),
	}
}

func EpochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func FromEpochSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*float64(time.Second)))).UTC()
}
