package collector

import (
	"context"

	"github.com/speedwagon-io/helmet/internal/model"
)

const DefaultCrashThresholdG = 2.5

type EventType string

const (
	EventCrash   EventType = "CRASH"
	EventFatigue EventType = "FATIGUE"
	EventStatus  EventType = "STATUS"
)

// Event is one classified outcome of a cycle. Exactly one of the payload
// fields is set, matching Type.
type Event struct {
	Type    EventType
	Crash   *CrashPayload
	Fatigue *FatiguePayload
	Status  *StatusPayload
}

type CrashPayload struct {
	GForce float64 `json:"g_force"`
}

type FatiguePayload struct {
	EAR       float64 `json:"ear"`
	LatencyMs float64 `json:"latency_ms"`
	Mode      string  `json:"mode"`
}

type StatusPayload struct {
	GForce    float64         `json:"g_force"`
	Perclos   float64         `json:"perclos"`
	Fatigue   bool            `json:"fatigue"`
	AIMetrics model.AIMetrics `json:"ai_metrics"`
}

// Boundaries are the three side-effecting operations a cycle depends on.
// ReadSnapshot and DetectFatigue must not fail; they degrade to safe
// defaults. PublishEvent reports whether the event went out on the network.
type Boundaries struct {
	ReadSnapshot  func(ctx context.Context) model.SensorSnapshot
	DetectFatigue func(ctx context.Context, snapshot model.SensorSnapshot) model.FatigueVerdict
	PublishEvent  func(ctx context.Context, event Event) bool
}

type CycleResult struct {
	CrashDetected   bool
	FatigueDetected bool
	Status          StatusPayload
	StatusPublished bool
}

// RunCycle samples, classifies and forwards one cycle. Crash and fatigue
// events are forwarded as soon as they are detected; the status event is
// always forwarded and the publish side decides whether to send it.
func RunCycle(ctx context.Context, b Boundaries, crashThresholdG float64) CycleResult {
	snapshot := b.ReadSnapshot(ctx)

	crash := snapshot.GForce > crashThresholdG
	if crash {
		b.PublishEvent(ctx, Event{
			Type:  EventCrash,
			Crash: &CrashPayload{GForce: snapshot.GForce},
		})
	}

	verdict := b.DetectFatigue(ctx, snapshot)
	mode := verdict.Mode
	if mode == "" {
		mode = model.DefaultDetectorMode
	}

	if verdict.IsDrowsy {
		b.PublishEvent(ctx, Event{
			Type: EventFatigue,
			Fatigue: &FatiguePayload{
				EAR:       verdict.EAR,
				LatencyMs: verdict.LatencyMs,
				Mode:      mode,
			},
		})
	}

	status := StatusPayload{
		GForce:  snapshot.GForce,
		Perclos: verdict.Perclos,
		Fatigue: verdict.IsDrowsy,
		AIMetrics: model.AIMetrics{
			Mode:       mode,
			LatencyMs:  verdict.LatencyMs,
			FalseAlert: verdict.FalseAlert,
		},
	}
	published := b.PublishEvent(ctx, Event{Type: EventStatus, Status: &status})

	return CycleResult{
		CrashDetected:   crash,
		FatigueDetected: verdict.IsDrowsy,
		Status:          status,
		StatusPublished: published,
	}
}
