package sender

import (
	"context"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/speedwagon-io/helmet/internal/config"
	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
)

const (
	mqttKeepAlive      = 60 * time.Second
	mqttDisconnectWait = 250
)

// MQTTBroker wraps a paho client. Automatic reconnects are disabled so that
// the Client's bounded backoff stays the only retry policy.
type MQTTBroker struct {
	log    *slog.Logger
	client mqtt.Client

	mu     sync.Mutex
	onLost func(error)
}

func NewMQTTBroker(log *slog.Logger, cfg config.ConnectivityConfig, clientID string) *MQTTBroker {
	b := &MQTTBroker{log: log}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(clientID).
		SetKeepAlive(mqttKeepAlive).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true).
		SetWriteTimeout(cfg.MaxAlertLatency).
		SetConnectionLostHandler(b.handleConnectionLost)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = mqtt.NewClient(opts)
	return b
}

func (b *MQTTBroker) OnConnectionLost(fn func(err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLost = fn
}

func (b *MQTTBroker) handleConnectionLost(_ mqtt.Client, err error) {
	b.log.Warn("mqtt connection lost", sl.Err(err))

	b.mu.Lock()
	fn := b.onLost
	b.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

func (b *MQTTBroker) Connect(ctx context.Context) error {
	return wait(ctx, b.client.Connect())
}

func (b *MQTTBroker) Reconnect(ctx context.Context) error {
	if b.client.IsConnectionOpen() {
		return nil
	}
	return wait(ctx, b.client.Connect())
}

func (b *MQTTBroker) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	return wait(ctx, b.client.Publish(topic, qos, false, payload))
}

func (b *MQTTBroker) Disconnect() {
	if b.client.IsConnected() {
		b.client.Disconnect(mqttDisconnectWait)
	}
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}
