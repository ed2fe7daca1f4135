package collector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
	"github.com/speedwagon-io/helmet/internal/model"
)

func seedStore(t *testing.T, m *Manager, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e := model.NewStorageEvent(model.EventAlertCrash, map[string]any{"g_force": float64(3 + i)})
		e.Timestamp = baseTime
		if err := m.store.Append(context.Background(), e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func TestManagerRunOnceStoresAndPublishes(t *testing.T) {
	clk := newClock()
	transport := newFakeTransport()
	reader := &fakeReader{snapshots: []model.SensorSnapshot{{GForce: 3.0}}}
	m := NewManager(sl.Discard(), testConfig(), reader, &fakeDetector{}, transport, newStore(clk),
		WithManagerClock(clk.Now))

	result := m.RunOnce(context.Background())

	if !result.CrashDetected || !result.StatusPublished {
		t.Fatalf("result = %+v", result)
	}
	if len(transport.alerts) != 1 || len(transport.statuses) != 1 {
		t.Fatalf("alerts = %d, statuses = %d", len(transport.alerts), len(transport.statuses))
	}
	if transport.statuses[0].SensorHealth["imu"] != "ok" {
		t.Errorf("sensor health not forwarded: %v", transport.statuses[0].SensorHealth)
	}
	if n, _ := m.store.Count(context.Background()); n != 2 {
		t.Errorf("stored = %d, want 2", n)
	}
	if m.Cycles() != 1 {
		t.Errorf("cycles = %d", m.Cycles())
	}
}

func TestManagerMaintainReplaysStore(t *testing.T) {
	clk := newClock()
	transport := newFakeTransport()
	transport.deliverErr = func(n int) error {
		if n >= 2 {
			return errNetwork
		}
		return nil
	}

	cfg := testConfig()
	cfg.Storage.CloudSyncEnabled = true
	m := NewManager(sl.Discard(), cfg, &fakeReader{}, &fakeDetector{}, transport, newStore(clk),
		WithManagerClock(clk.Now))
	seedStore(t, m, 3)
	ctx := context.Background()

	m.Maintain(ctx)

	if len(transport.deliveries) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(transport.deliveries))
	}
	d := transport.deliveries[0]
	if d.Topic != model.TopicEvents || d.QoS != 1 {
		t.Errorf("delivery = %s qos %d", d.Topic, d.QoS)
	}

	var record model.EventRecord
	if err := json.Unmarshal(d.Payload, &record); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if record.Type != model.MessageTypeEvent || record.EventType != model.EventAlertCrash || record.DeviceID != "helmet_01" {
		t.Errorf("record = %+v", record)
	}

	pending, _ := m.store.PendingReplay(ctx)
	if len(pending) != 1 || pending[0].Payload["g_force"] != 5.0 {
		t.Errorf("pending = %+v", pending)
	}
	if transport.flushes != 1 {
		t.Errorf("flushes = %d", transport.flushes)
	}
}

func TestManagerCrashSurvivesUntilFirstSync(t *testing.T) {
	clk := newClock()
	transport := newFakeTransport()
	transport.queueing = true

	cfg := testConfig()
	cfg.Runtime.TickInterval = 50 * time.Millisecond
	cfg.Storage.SyncInterval = 30 * time.Second
	cfg.Storage.MaxItems = 500
	cfg.Storage.CloudSyncEnabled = true

	reader := &fakeReader{snapshots: []model.SensorSnapshot{{GForce: 3.0}, {GForce: 1.0}}}
	m := NewManager(sl.Discard(), cfg, reader, &fakeDetector{}, transport, newStore(clk),
		WithManagerClock(clk.Now))
	ctx := context.Background()

	ticks := int(cfg.Storage.SyncInterval / cfg.Runtime.TickInterval)
	for i := 0; i < ticks; i++ {
		clk.Set(baseTime.Add(time.Duration(i) * cfg.Runtime.TickInterval))
		m.RunOnce(ctx)
	}

	stored, _ := m.store.Count(ctx)
	if float64(stored) >= 0.8*float64(cfg.Storage.MaxItems) {
		t.Fatalf("store holds %d events after one sync interval", stored)
	}

	pending, _ := m.store.PendingReplay(ctx)
	if len(pending) == 0 || pending[0].Kind != model.EventAlertCrash {
		t.Fatalf("crash not pending before first sync: %d events", len(pending))
	}

	m.Maintain(ctx)

	var record model.EventRecord
	if err := json.Unmarshal(transport.deliveries[0].Payload, &record); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if record.EventType != model.EventAlertCrash {
		t.Errorf("first replayed event = %s, want alert_crash", record.EventType)
	}
	if pending, _ := m.store.PendingReplay(ctx); len(pending) != 0 {
		t.Errorf("pending after sync = %d, want 0", len(pending))
	}
}

func TestManagerRunOnceSkipsReplayOfLiveSends(t *testing.T) {
	clk := newClock()
	transport := newFakeTransport()
	reader := &fakeReader{snapshots: []model.SensorSnapshot{{GForce: 3.0}}}
	m := NewManager(sl.Discard(), testConfig(), reader, &fakeDetector{}, transport, newStore(clk),
		WithManagerClock(clk.Now))
	ctx := context.Background()

	m.RunOnce(ctx)

	pending, _ := m.store.PendingReplay(ctx)
	if len(pending) != 0 {
		t.Fatalf("pending = %+v, want none after live sends", pending)
	}
}

func TestManagerMaintainSkipsReplayWithoutCloudSync(t *testing.T) {
	clk := newClock()
	transport := newFakeTransport()
	m := NewManager(sl.Discard(), testConfig(), &fakeReader{}, &fakeDetector{}, transport, newStore(clk),
		WithManagerClock(clk.Now))
	seedStore(t, m, 2)

	m.Maintain(context.Background())

	if len(transport.deliveries) != 0 {
		t.Errorf("deliveries = %d, want 0", len(transport.deliveries))
	}
}

func TestManagerMaintainWhileOffline(t *testing.T) {
	clk := newClock()
	transport := newFakeTransport()
	transport.state = model.StateDisconnected
	transport.recoverOK = false

	cfg := testConfig()
	cfg.Storage.CloudSyncEnabled = true
	m := NewManager(sl.Discard(), cfg, &fakeReader{}, &fakeDetector{}, transport, newStore(clk),
		WithManagerClock(clk.Now))
	seedStore(t, m, 2)

	clk.Set(baseTime.Add(25 * time.Hour))
	m.Maintain(context.Background())

	if transport.recovers != 1 || transport.flushes != 0 || len(transport.deliveries) != 0 {
		t.Errorf("recovers = %d, flushes = %d, deliveries = %d",
			transport.recovers, transport.flushes, len(transport.deliveries))
	}
	if n, _ := m.store.Count(context.Background()); n != 0 {
		t.Errorf("expired events kept: %d", n)
	}
}

func TestManagerStartHonoursCycleLimit(t *testing.T) {
	clk := newClock()
	reader := &fakeReader{}
	m := NewManager(sl.Discard(), testConfig(), reader, &fakeDetector{}, newFakeTransport(), newStore(clk),
		WithManagerClock(clk.Now), WithMaxCycles(3))

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop at cycle limit")
	}

	m.Stop()

	if m.Cycles() != 3 {
		t.Errorf("cycles = %d, want 3", m.Cycles())
	}
	if !reader.closed {
		t.Error("reader not closed")
	}
}

func TestManagerStopsOnContextCancel(t *testing.T) {
	clk := newClock()
	m := NewManager(sl.Discard(), testConfig(), &fakeReader{}, &fakeDetector{}, newFakeTransport(), newStore(clk),
		WithManagerClock(clk.Now))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager ignored cancellation")
	}
	m.Stop()
	m.Stop()
}
