package sender

import (
	"context"
	"log/slog"
)

// Broker is the network side of the telemetry client. Implementations
// report failures as errors; the Client turns them into counters and
// offline-queue entries.
type Broker interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Disconnect()
}

// ConnectionNotifier is implemented by brokers that detect connection loss
// on their own I/O goroutine.
type ConnectionNotifier interface {
	OnConnectionLost(fn func(err error))
}

// LogBroker logs messages instead of sending them (for dry runs).
type LogBroker struct {
	log *slog.Logger
}

func NewLogBroker(log *slog.Logger) *LogBroker {
	return &LogBroker{log: log}
}

func (b *LogBroker) Connect(ctx context.Context) error {
	b.log.Info("log broker connected")
	return nil
}

func (b *LogBroker) Reconnect(ctx context.Context) error {
	return nil
}

func (b *LogBroker) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	b.log.Info("PUBLISH",
		slog.String("topic", topic),
		slog.Int("qos", int(qos)),
		slog.String("payload", string(payload)),
	)
	return nil
}

func (b *LogBroker) Disconnect() {}
