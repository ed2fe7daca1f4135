package collector

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/speedwagon-io/helmet/internal/buffer"
	"github.com/speedwagon-io/helmet/internal/config"
	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
	"github.com/speedwagon-io/helmet/internal/model"
)

const replayBatchSize = 100

type Manager struct {
	log        *slog.Logger
	cfg        *config.Config
	reader     SensorReader
	detector   FatigueDetector
	transport  Transport
	store      *buffer.Guarded
	faults     *RuntimeFaults
	publisher  *EventPublisher
	boundaries Boundaries
	now        func() time.Time

	maxCycles int64
	cycles    atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type ManagerOption func(*Manager)

// WithMaxCycles stops Start after n cycles. Zero means run until stopped.
func WithMaxCycles(n int) ManagerOption {
	return func(m *Manager) {
		m.maxCycles = int64(n)
	}
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(
	log *slog.Logger,
	cfg *config.Config,
	reader SensorReader,
	detector FatigueDetector,
	transport Transport,
	store buffer.Buffer,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		log:       log,
		cfg:       cfg,
		reader:    reader,
		detector:  detector,
		transport: transport,
		store:     buffer.NewGuarded(store),
		faults:    &RuntimeFaults{},
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	pubOpts := []PublisherOption{WithPublisherClock(m.now)}
	if hr, ok := reader.(HealthReporter); ok {
		pubOpts = append(pubOpts, WithSensorHealth(hr.SensorHealth))
	}

	features := cfg.Runtime.Features
	m.publisher = NewEventPublisher(log, PublisherConfig{
		TelemetryInterval: cfg.Connectivity.TelemetryInterval,
		AlertPublish:      features.AlertPublish(),
		StatusTelemetry:   features.StatusTelemetry(),
	}, transport, m.store, m.faults, pubOpts...)

	m.boundaries = SafeBoundaries(log, reader, detector, cfg.Runtime, m.faults, m.publisher.Publish)

	return m
}

// Start runs cycles on the tick interval until ctx is cancelled, Stop is
// called or the cycle limit is reached. Store maintenance runs in its own
// goroutine so that reconnect backoff never stalls sensing.
func (m *Manager) Start(ctx context.Context) {
	m.log.Info("starting runtime manager",
		slog.String("device_id", m.cfg.Device.ID),
		slog.Duration("tick", m.cfg.Runtime.TickInterval),
		slog.Duration("sync_interval", m.cfg.Storage.SyncInterval),
	)

	ticker := time.NewTicker(m.cfg.Runtime.TickInterval)
	defer ticker.Stop()

	m.wg.Add(1)
	go m.runMaintenance(ctx)

	m.RunOnce(ctx)

	for {
		if m.limitReached() {
			m.log.Info("cycle limit reached, stopping manager", slog.Int64("cycles", m.cycles.Load()))
			return
		}

		select {
		case <-ctx.Done():
			m.log.Info("context cancelled, stopping manager")
			return
		case <-m.stopCh:
			m.log.Info("stop signal received, stopping manager")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	if err := m.reader.Close(); err != nil {
		m.log.Error("failed to close sensor reader", sl.Err(err))
	}
	if c, ok := m.detector.(io.Closer); ok && any(m.detector) != any(m.reader) {
		if err := c.Close(); err != nil {
			m.log.Error("failed to close fatigue detector", sl.Err(err))
		}
	}
}

func (m *Manager) RunOnce(ctx context.Context) CycleResult {
	result := RunCycle(ctx, m.boundaries, m.cfg.Runtime.CrashThresholdG)
	m.cycles.Add(1)

	m.log.Debug("cycle completed",
		slog.Float64("g_force", result.Status.GForce),
		slog.Bool("crash", result.CrashDetected),
		slog.Bool("fatigue", result.FatigueDetected),
		slog.Bool("status_published", result.StatusPublished),
	)

	return result
}

func (m *Manager) Cycles() int64 {
	return m.cycles.Load()
}

func (m *Manager) Faults() model.RuntimeFaults {
	return m.faults.Snapshot()
}

func (m *Manager) limitReached() bool {
	return m.maxCycles > 0 && m.cycles.Load() >= m.maxCycles
}

func (m *Manager) runMaintenance(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Storage.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Maintain(ctx)
		}
	}
}

// Maintain recovers the transport, drains the offline queue, replays
// unsynced store events when cloud sync is enabled and prunes expired ones.
func (m *Manager) Maintain(ctx context.Context) {
	if !m.transport.Recover(ctx) {
		m.log.Debug("telemetry transport still unavailable",
			slog.String("state", string(m.transport.State())),
		)
	} else {
		m.transport.FlushOfflineQueue(ctx)

		if m.cfg.Storage.CloudSyncEnabled {
			m.replayStore(ctx)
		}
	}

	pruned, err := m.store.PruneByRetention(ctx, m.now())
	if err != nil {
		m.log.Error("failed to prune expired events", sl.Err(err))
		return
	}
	if pruned > 0 {
		m.log.Info("expired events pruned", slog.Int64("count", pruned))
	}
}

func (m *Manager) replayStore(ctx context.Context) {
	pending, err := m.store.PendingReplay(ctx)
	if err != nil {
		m.log.Error("failed to get pending events from store", sl.Err(err))
		return
	}

	if len(pending) == 0 {
		return
	}
	if len(pending) > replayBatchSize {
		pending = pending[:replayBatchSize]
	}

	m.log.Info("replaying stored events", slog.Int("count", len(pending)))

	qos := byte(m.cfg.Connectivity.AlertQoS)

	var deliveredIDs []string
	for _, event := range pending {
		payload, err := json.Marshal(model.NewEventRecord(m.cfg.Device.ID, event))
		if err != nil {
			m.log.Error("failed to marshal stored event",
				slog.String("id", event.ID),
				sl.Err(err),
			)
			continue
		}

		if err := m.transport.Deliver(ctx, model.TopicEvents, payload, qos); err != nil {
			m.log.Debug("failed to deliver stored event",
				slog.String("id", event.ID),
				sl.Err(err),
			)
			break
		}
		deliveredIDs = append(deliveredIDs, event.ID)
	}

	if len(deliveredIDs) == 0 {
		return
	}

	marked, err := m.store.MarkSyncedByID(ctx, deliveredIDs)
	if err != nil {
		m.log.Error("failed to mark stored events as synced", sl.Err(err))
		return
	}
	m.log.Info("stored events synced", slog.Int("count", marked))
}
