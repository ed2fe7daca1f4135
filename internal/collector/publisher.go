package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/speedwagon-io/helmet/internal/buffer"
	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
	"github.com/speedwagon-io/helmet/internal/model"
	"github.com/speedwagon-io/helmet/internal/sender"
)

// Transport is the part of sender.Client the runtime depends on.
type Transport interface {
	SendAlert(ctx context.Context, kind model.AlertKind, value float64) sender.PublishResult
	SendTelemetry(ctx context.Context, status model.StatusMessage) sender.PublishResult
	Deliver(ctx context.Context, topic string, payload []byte, qos byte) error
	FlushOfflineQueue(ctx context.Context) sender.ReplayResult
	Recover(ctx context.Context) bool
	State() model.ConnectionState
	HealthSnapshot() model.TransportHealth
}

type PublisherConfig struct {
	TelemetryInterval time.Duration
	AlertPublish      bool
	StatusTelemetry   bool
}

// EventPublisher is the PublishEvent boundary of a cycle. It sends alerts
// right away and stores every alert. Status is sent and stored at most once
// per TelemetryInterval, each on its own timer, so a status is stored on
// schedule even when the send is disabled or withheld. Events that went out
// live are stored already synced and are not replayed.
type EventPublisher struct {
	log          *slog.Logger
	cfg          PublisherConfig
	transport    Transport
	store        buffer.Buffer
	faults       *RuntimeFaults
	sensorHealth func(ctx context.Context) map[string]any
	now          func() time.Time

	lastStatusSent   time.Time
	lastStatusStored time.Time
}

type PublisherOption func(*EventPublisher)

func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *EventPublisher) {
		p.now = now
	}
}

func WithSensorHealth(fn func(ctx context.Context) map[string]any) PublisherOption {
	return func(p *EventPublisher) {
		p.sensorHealth = fn
	}
}

func NewEventPublisher(
	log *slog.Logger,
	cfg PublisherConfig,
	transport Transport,
	store buffer.Buffer,
	faults *RuntimeFaults,
	opts ...PublisherOption,
) *EventPublisher {
	p := &EventPublisher{
		log:       log,
		cfg:       cfg,
		transport: transport,
		store:     store,
		faults:    faults,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *EventPublisher) Publish(ctx context.Context, event Event) bool {
	switch event.Type {
	case EventCrash:
		g := event.Crash.GForce
		p.log.Warn("crash detected", slog.Float64("g_force", g))
		result := p.sendAlert(ctx, model.AlertCrash, g)
		p.append(ctx, model.EventAlertCrash, map[string]any{"g_force": g}, result == sender.Sent)
		return result != sender.Dropped

	case EventFatigue:
		ear := event.Fatigue.EAR
		p.log.Warn("fatigue alert triggered", slog.Float64("ear", ear))
		result := p.sendAlert(ctx, model.AlertFatigue, ear)
		p.append(ctx, model.EventAlertFatigue, map[string]any{"ear": ear}, result == sender.Sent)
		return result != sender.Dropped

	case EventStatus:
		return p.publishStatus(ctx, *event.Status)
	}

	p.log.Error("unknown runtime event", slog.String("type", string(event.Type)))
	return false
}

func (p *EventPublisher) sendAlert(ctx context.Context, kind model.AlertKind, value float64) sender.PublishResult {
	if !p.cfg.AlertPublish {
		return sender.Dropped
	}
	return p.transport.SendAlert(ctx, kind, value)
}

func (p *EventPublisher) elapsed(last, now time.Time) bool {
	return last.IsZero() || now.Sub(last) >= p.cfg.TelemetryInterval
}

func (p *EventPublisher) publishStatus(ctx context.Context, status StatusPayload) bool {
	now := p.now()

	result := sender.Dropped
	if p.cfg.StatusTelemetry && p.elapsed(p.lastStatusSent, now) {
		aiMetrics := status.AIMetrics
		msg := model.StatusMessage{
			Perclos:   status.Perclos,
			GForce:    status.GForce,
			AIMetrics: &aiMetrics,
			RuntimeHealth: &model.RuntimeHealth{
				Telemetry:     p.transport.HealthSnapshot(),
				FaultCounters: p.faults.Snapshot(),
			},
		}
		if p.sensorHealth != nil {
			msg.SensorHealth = p.sensorHealth(ctx)
		}

		result = p.transport.SendTelemetry(ctx, msg)
		p.lastStatusSent = now
	}
	published := result != sender.Dropped

	if !p.elapsed(p.lastStatusStored, now) {
		return published
	}
	p.lastStatusStored = now

	p.append(ctx, model.EventStatus, map[string]any{
		"perclos": status.Perclos,
		"g_force": status.GForce,
		"fatigue": status.Fatigue,
		"ai_metrics": map[string]any{
			"mode":        status.AIMetrics.Mode,
			"latency_ms":  status.AIMetrics.LatencyMs,
			"false_alert": status.AIMetrics.FalseAlert,
		},
		"published": published,
	}, result == sender.Sent)

	return published
}

func (p *EventPublisher) append(ctx context.Context, kind model.EventKind, payload map[string]any, synced bool) {
	if p.store == nil {
		return
	}

	event := model.NewStorageEvent(kind, payload)
	event.Timestamp = p.now().UTC()
	event.Synced = synced

	if err := p.store.Append(ctx, event); err != nil {
		p.log.Error("failed to store event",
			slog.String("event_type", string(kind)),
			sl.Err(err),
		)
	}
}
