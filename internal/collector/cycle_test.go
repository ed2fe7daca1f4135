package collector

import (
	"context"
	"testing"

	"github.com/speedwagon-io/helmet/internal/config"
	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
	"github.com/speedwagon-io/helmet/internal/model"
)

type recordingBoundaries struct {
	snapshot model.SensorSnapshot
	verdict  model.FatigueVerdict
	events   []Event
}

func (r *recordingBoundaries) boundaries() Boundaries {
	return Boundaries{
		ReadSnapshot: func(context.Context) model.SensorSnapshot { return r.snapshot },
		DetectFatigue: func(context.Context, model.SensorSnapshot) model.FatigueVerdict {
			return r.verdict
		},
		PublishEvent: func(_ context.Context, e Event) bool {
			r.events = append(r.events, e)
			return e.Type == EventStatus
		},
	}
}

func (r *recordingBoundaries) types() []EventType {
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func equalTypes(a, b []EventType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunCycle(t *testing.T) {
	tests := []struct {
		name        string
		gForce      float64
		drowsy      bool
		wantTypes   []EventType
		wantCrash   bool
		wantFatigue bool
	}{
		{"quiet", 1.0, false, []EventType{EventStatus}, false, false},
		{"exactly at threshold", 2.5, false, []EventType{EventStatus}, false, false},
		{"crash", 3.0, false, []EventType{EventCrash, EventStatus}, true, false},
		{"fatigue", 0.9, true, []EventType{EventFatigue, EventStatus}, false, true},
		{"crash and fatigue", 4.2, true, []EventType{EventCrash, EventFatigue, EventStatus}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingBoundaries{
				snapshot: model.SensorSnapshot{GForce: tt.gForce},
				verdict:  model.FatigueVerdict{IsDrowsy: tt.drowsy, EAR: 0.18, Perclos: 0.4},
			}

			result := RunCycle(context.Background(), rec.boundaries(), DefaultCrashThresholdG)

			if !equalTypes(rec.types(), tt.wantTypes) {
				t.Fatalf("events = %v, want %v", rec.types(), tt.wantTypes)
			}
			if result.CrashDetected != tt.wantCrash || result.FatigueDetected != tt.wantFatigue {
				t.Errorf("result = %+v", result)
			}
			if !result.StatusPublished {
				t.Error("status should be reported as published")
			}
			if result.Status.GForce != tt.gForce || result.Status.Fatigue != tt.drowsy {
				t.Errorf("status = %+v", result.Status)
			}
		})
	}
}

func TestRunCycleCrashPayload(t *testing.T) {
	rec := &recordingBoundaries{snapshot: model.SensorSnapshot{GForce: 3.0}}

	RunCycle(context.Background(), rec.boundaries(), DefaultCrashThresholdG)

	if rec.events[0].Crash == nil || rec.events[0].Crash.GForce != 3.0 {
		t.Fatalf("crash payload = %+v", rec.events[0].Crash)
	}
}

func TestRunCycleDefaultsDetectorMode(t *testing.T) {
	rec := &recordingBoundaries{
		verdict: model.FatigueVerdict{IsDrowsy: true, EAR: 0.15, LatencyMs: 12},
	}

	result := RunCycle(context.Background(), rec.boundaries(), DefaultCrashThresholdG)

	if got := rec.events[0].Fatigue.Mode; got != model.DefaultDetectorMode {
		t.Errorf("fatigue mode = %q", got)
	}
	if result.Status.AIMetrics.Mode != model.DefaultDetectorMode || result.Status.AIMetrics.LatencyMs != 12 {
		t.Errorf("ai metrics = %+v", result.Status.AIMetrics)
	}
}

func TestRunCycleReportsWithheldStatus(t *testing.T) {
	b := (&recordingBoundaries{}).boundaries()
	b.PublishEvent = func(context.Context, Event) bool { return false }

	if RunCycle(context.Background(), b, DefaultCrashThresholdG).StatusPublished {
		t.Error("withheld status reported as published")
	}
}

func TestSafeBoundariesAbsorbFailures(t *testing.T) {
	faults := &RuntimeFaults{}
	reader := &fakeReader{err: errSensor}
	detector := &fakeDetector{err: errDetect}

	var events []Event
	b := SafeBoundaries(sl.Discard(), reader, detector, config.RuntimeConfig{DetectorMode: "cnn"}, faults,
		func(_ context.Context, e Event) bool {
			events = append(events, e)
			return true
		})

	result := RunCycle(context.Background(), b, DefaultCrashThresholdG)

	if result.CrashDetected || result.FatigueDetected {
		t.Fatalf("failed boundaries produced alerts: %+v", result)
	}
	if len(events) != 1 || events[0].Type != EventStatus {
		t.Fatalf("events = %+v", events)
	}
	if result.Status.AIMetrics.Mode != "cnn" {
		t.Errorf("mode = %q, want configured mode", result.Status.AIMetrics.Mode)
	}

	got := faults.Snapshot()
	if got.SensorReadFailures != 1 || got.DetectFailures != 1 {
		t.Errorf("faults = %+v", got)
	}
}

func TestSafeDetectorDisabled(t *testing.T) {
	detector := &fakeDetector{verdict: model.FatigueVerdict{IsDrowsy: true}}
	detect := SafeDetector(sl.Discard(), detector, "", false, &RuntimeFaults{})

	verdict := detect(context.Background(), model.SensorSnapshot{})

	if verdict.IsDrowsy {
		t.Error("disabled detection reported drowsy")
	}
	if detector.calls != 0 {
		t.Errorf("detector called %d times", detector.calls)
	}
	if verdict.Mode != model.DefaultDetectorMode {
		t.Errorf("mode = %q", verdict.Mode)
	}
}
