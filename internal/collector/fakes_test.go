package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/speedwagon-io/helmet/internal/buffer"
	"github.com/speedwagon-io/helmet/internal/config"
	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
	"github.com/speedwagon-io/helmet/internal/model"
	"github.com/speedwagon-io/helmet/internal/sender"
)

var (
	baseTime   = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	errSensor  = errors.New("imu read timeout")
	errDetect  = errors.New("detector crashed")
	errNetwork = errors.New("network unreachable")
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: baseTime} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type alertCall struct {
	Kind  model.AlertKind
	Value float64
}

type delivery struct {
	Topic   string
	Payload []byte
	QoS     byte
}

type fakeTransport struct {
	mu         sync.Mutex
	state      model.ConnectionState
	recoverOK  bool
	queueing   bool
	deliverErr func(n int) error

	alerts     []alertCall
	statuses   []model.StatusMessage
	deliveries []delivery
	flushes    int
	recovers   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: model.StateConnected, recoverOK: true}
}

func (f *fakeTransport) SendAlert(_ context.Context, kind model.AlertKind, value float64) sender.PublishResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alertCall{Kind: kind, Value: value})
	return f.resultLocked()
}

func (f *fakeTransport) resultLocked() sender.PublishResult {
	if f.queueing {
		return sender.Queued
	}
	return sender.Sent
}

func (f *fakeTransport) SendTelemetry(_ context.Context, status model.StatusMessage) sender.PublishResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return f.resultLocked()
}

func (f *fakeTransport) Deliver(_ context.Context, topic string, payload []byte, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		if err := f.deliverErr(len(f.deliveries)); err != nil {
			return err
		}
	}
	f.deliveries = append(f.deliveries, delivery{Topic: topic, Payload: payload, QoS: qos})
	return nil
}

func (f *fakeTransport) FlushOfflineQueue(context.Context) sender.ReplayResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return sender.ReplayResult{}
}

func (f *fakeTransport) Recover(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovers++
	if f.recoverOK {
		f.state = model.StateConnected
	}
	return f.recoverOK
}

func (f *fakeTransport) State() model.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) HealthSnapshot() model.TransportHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.TransportHealth{
		Connected:            f.state == model.StateConnected,
		State:                f.state,
		OfflineQueueMaxItems: 100,
	}
}

type fakeReader struct {
	mu        sync.Mutex
	snapshots []model.SensorSnapshot
	err       error
	reads     int
	closed    bool
}

func (r *fakeReader) ReadSnapshot(context.Context) (model.SensorSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.err != nil {
		return model.SensorSnapshot{}, r.err
	}
	if len(r.snapshots) == 0 {
		return model.SensorSnapshot{GForce: 1.0}, nil
	}
	s := r.snapshots[0]
	if len(r.snapshots) > 1 {
		r.snapshots = r.snapshots[1:]
	}
	return s, nil
}

func (r *fakeReader) Name() string { return "fake" }

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) SensorHealth(context.Context) map[string]any {
	return map[string]any{"imu": "ok"}
}

type fakeDetector struct {
	verdict model.FatigueVerdict
	err     error
	calls   int
}

func (d *fakeDetector) DetectFatigue(context.Context, model.SensorSnapshot) (model.FatigueVerdict, error) {
	d.calls++
	return d.verdict, d.err
}

func testConfig() *config.Config {
	return &config.Config{
		Device:       config.DeviceConfig{ID: "helmet_01"},
		Connectivity: config.DefaultConnectivity(),
		Storage: config.StorageConfig{
			RetentionHours: 24,
			MaxItems:       500,
			ConflictPolicy: "last-write-wins",
			SyncInterval:   time.Hour,
		},
		Runtime: config.RuntimeConfig{
			TickInterval:    time.Millisecond,
			CrashThresholdG: DefaultCrashThresholdG,
			DetectorMode:    model.DefaultDetectorMode,
		},
	}
}

func newStore(clk *clock) buffer.Buffer {
	return buffer.NewMemoryBuffer(sl.Discard(),
		buffer.Policy{Retention: 24 * time.Hour, MaxItems: 500},
		buffer.WithClock(clk.Now),
	)
}
