package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/speedwagon-io/helmet/internal/config"
	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
	"github.com/speedwagon-io/helmet/internal/model"
)

const degradedQueueRatio = 0.8

var (
	ErrNoBroker     = errors.New("no broker configured")
	ErrNotConnected = errors.New("broker not connected")
)

type PublishResult int

const (
	Dropped PublishResult = iota
	Sent
	Queued
)

func (r PublishResult) String() string {
	switch r {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	default:
		return "dropped"
	}
}

type ReplayResult struct {
	Replayed  int `json:"replayed"`
	Remaining int `json:"remaining"`
}

// Client publishes alert and status messages through a Broker. When the broker
// is unreachable messages go to a bounded offline queue and are replayed once
// the connection is back.
//
// mu guards state, queue and counters and is held across broker sends so the
// polling loop and broker callbacks observe a consistent queue. reconnectMu
// keeps reconnect single-flight; backoff sleeps run without mu held.
type Client struct {
	log      *slog.Logger
	deviceID string
	cfg      config.ConnectivityConfig
	broker   Broker
	sleeper  Sleeper
	backoff  *ExponentialBackoff
	now      func() time.Time

	mu       sync.Mutex
	state    model.ConnectionState
	queue    *offlineQueue
	counters model.FaultCounters

	reconnectMu sync.Mutex
}

type Option func(*Client)

func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		c.sleeper = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient validates cfg and makes one connection attempt. A nil broker is
// allowed and leaves the client permanently disconnected, queueing only.
func NewClient(ctx context.Context, log *slog.Logger, deviceID string, cfg config.ConnectivityConfig, broker Broker, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create telemetry client: %w", err)
	}

	backoff := NewExponentialBackoff(cfg.ReconnectInitialDelay, cfg.ReconnectMaxDelay)
	backoff.Jitter = cfg.ReconnectJitter

	c := &Client{
		log:      log,
		deviceID: deviceID,
		cfg:      cfg,
		broker:   broker,
		sleeper:  TimerSleeper{},
		backoff:  backoff,
		now:      time.Now,
		state:    model.StateDisconnected,
		queue:    newOfflineQueue(cfg.OfflineQueueMaxItems),
	}
	for _, opt := range opts {
		opt(c)
	}

	if broker == nil {
		log.Warn("telemetry broker unavailable, messages will be queued offline")
		return c, nil
	}

	if n, ok := broker.(ConnectionNotifier); ok {
		n.OnConnectionLost(c.HandleConnectionLost)
	}

	if err := broker.Connect(ctx); err != nil {
		log.Warn("telemetry broker connection failed", sl.Err(err))
		return c, nil
	}

	c.setState(model.StateConnected)
	log.Info("telemetry broker connected", slog.String("device_id", deviceID))
	c.FlushOfflineQueue(ctx)

	return c, nil
}

func (c *Client) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) SendAlert(ctx context.Context, kind model.AlertKind, value float64) PublishResult {
	msg := model.NewAlertMessage(c.deviceID, kind, value, c.now())

	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal alert", slog.String("alert", string(kind)), sl.Err(err))
		return Dropped
	}

	return c.Publish(ctx, model.TopicAlerts, payload, byte(c.cfg.AlertQoS))
}

func (c *Client) SendTelemetry(ctx context.Context, status model.StatusMessage) PublishResult {
	status.DeviceID = c.deviceID
	status.Type = model.MessageTypeStatus
	status.Timestamp = model.EpochSeconds(c.now())

	payload, err := json.Marshal(status)
	if err != nil {
		c.log.Error("failed to marshal status", sl.Err(err))
		return Dropped
	}

	return c.Publish(ctx, model.TopicTelemetry, payload, byte(c.cfg.StatusQoS))
}

// Publish never returns transport errors. A failed send is counted, queued
// offline and followed by a bounded reconnect.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte) PublishResult {
	c.mu.Lock()

	if c.broker == nil || c.state != model.StateConnected {
		admitted := c.enqueueLocked(topic, payload, qos)
		c.mu.Unlock()
		if admitted {
			return Queued
		}
		return Dropped
	}

	err := c.broker.Publish(ctx, topic, payload, qos)
	if err == nil {
		backlog := c.queue.Len() > 0
		c.mu.Unlock()
		if backlog {
			c.FlushOfflineQueue(ctx)
		}
		return Sent
	}

	c.counters.PublishFailures++
	admitted := c.enqueueLocked(topic, payload, qos)
	c.state = model.StateReconnecting
	c.mu.Unlock()

	c.log.Warn("publish failed, recovering connection",
		slog.String("topic", topic),
		sl.Err(err),
	)
	c.Reconnect(ctx)

	if admitted {
		return Queued
	}
	return Dropped
}

func (c *Client) enqueueLocked(topic string, payload []byte, qos byte) bool {
	if !c.cfg.OfflineQueueEnabled {
		return false
	}

	if evicted := c.queue.Push(model.NewOutboundMessage(topic, payload, qos)); evicted {
		c.log.Debug("offline queue full, evicted oldest message",
			slog.Int("max_items", c.queue.Cap()),
		)
	}
	return true
}

// FlushOfflineQueue resends queued messages in order. Messages that fail stay
// queued in their original order.
func (c *Client) FlushOfflineQueue(ctx context.Context) ReplayResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broker == nil || c.state != model.StateConnected || c.queue.Len() == 0 {
		return ReplayResult{Remaining: c.queue.Len()}
	}

	var (
		remaining []model.OutboundMessage
		replayed  int
	)
	for _, msg := range c.queue.Items() {
		c.counters.ReplayAttempts++
		if err := c.broker.Publish(ctx, msg.Topic, msg.Payload, msg.QoS); err != nil {
			c.counters.ReplayFailures++
			remaining = append(remaining, msg)
			continue
		}
		replayed++
	}
	c.queue.Reset(remaining)

	c.log.Info("offline queue replayed",
		slog.Int("replayed", replayed),
		slog.Int("remaining", len(remaining)),
	)

	return ReplayResult{Replayed: replayed, Remaining: len(remaining)}
}

// Reconnect retries the broker connection with exponential backoff, at most
// MaxReconnectAttempts times. It blocks for the backoff sleeps and returns
// false immediately when another reconnect is already running.
func (c *Client) Reconnect(ctx context.Context) bool {
	if c.broker == nil {
		return false
	}

	if !c.reconnectMu.TryLock() {
		c.log.Debug("reconnect already in progress")
		return false
	}
	defer c.reconnectMu.Unlock()

	c.setState(model.StateReconnecting)

	maxAttempts := c.cfg.MaxReconnectAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.mu.Lock()
		c.counters.ReconnectAttempts++
		c.mu.Unlock()

		err := c.broker.Reconnect(ctx)
		if err == nil {
			c.setState(model.StateConnected)
			c.log.Info("telemetry broker reconnected", slog.Int("attempt", attempt))
			c.FlushOfflineQueue(ctx)
			return true
		}

		c.mu.Lock()
		c.counters.ReconnectFailures++
		c.mu.Unlock()

		c.log.Warn("reconnect attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			sl.Err(err),
		)

		if attempt < maxAttempts {
			if err := c.sleeper.Sleep(ctx, c.backoff.NextDelay(attempt-1)); err != nil {
				break
			}
		}
	}

	c.setState(model.StateDisconnected)
	return false
}

// Recover reconnects when the client is not connected. It is meant for the
// maintenance path, outside the per-cycle publish path.
func (c *Client) Recover(ctx context.Context) bool {
	if c.State() == model.StateConnected {
		return true
	}
	return c.Reconnect(ctx)
}

// Deliver sends a message only when connected and never queues it. Callers
// keep their own durable copy and retry later.
func (c *Client) Deliver(ctx context.Context, topic string, payload []byte, qos byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broker == nil {
		return ErrNoBroker
	}
	if c.state != model.StateConnected {
		return ErrNotConnected
	}

	c.counters.ReplayAttempts++
	if err := c.broker.Publish(ctx, topic, payload, qos); err != nil {
		c.counters.ReplayFailures++
		c.state = model.StateDisconnected
		return fmt.Errorf("failed to deliver message: %w", err)
	}
	return nil
}

func (c *Client) HandleConnectionLost(err error) {
	c.mu.Lock()
	if c.state == model.StateConnected {
		c.state = model.StateDisconnected
	}
	c.mu.Unlock()

	c.log.Warn("telemetry connection lost", sl.Err(err))
}

func (c *Client) HealthSnapshot() model.TransportHealth {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxItems := max(1, c.cfg.OfflineQueueMaxItems)
	depth := c.queue.Len()

	return model.TransportHealth{
		Connected:            c.state == model.StateConnected,
		State:                c.state,
		OfflineQueueDepth:    depth,
		OfflineQueueMaxItems: maxItems,
		Degraded:             float64(depth)/float64(maxItems) >= degradedQueueRatio || c.counters.ReconnectFailures > 0,
		FaultCounters:        c.counters,
	}
}

// QueuedMessages returns a copy of the offline queue, oldest first.
func (c *Client) QueuedMessages() []model.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Items()
}

func (c *Client) Close() {
	if c.broker != nil {
		c.broker.Disconnect()
	}
	c.setState(model.StateDisconnected)
}

func (c *Client) setState(s model.ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
