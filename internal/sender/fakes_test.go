package sender

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errNetwork = errors.New("network unreachable")

type published struct {
	Topic   string
	Payload []byte
	QoS     byte
}

type fakeBroker struct {
	mu sync.Mutex

	connectErr   error
	reconnectErr func(attempt int) error
	publishErr   func(topic string, payload []byte) error

	connectCalls   int
	reconnectCalls int
	disconnected   bool
	sent           []published
	onLost         func(error)
}

func (b *fakeBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectCalls++
	return b.connectErr
}

func (b *fakeBroker) Reconnect(ctx context.Context) error {
	b.mu.Lock()
	b.reconnectCalls++
	n := b.reconnectCalls
	fn := b.reconnectErr
	b.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(n)
}

func (b *fakeBroker) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishErr != nil {
		if err := b.publishErr(topic, payload); err != nil {
			return err
		}
	}
	b.sent = append(b.sent, published{Topic: topic, Payload: payload, QoS: qos})
	return nil
}

func (b *fakeBroker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = true
}

func (b *fakeBroker) OnConnectionLost(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLost = fn
}

func (b *fakeBroker) setPublishErr(fn func(topic string, payload []byte) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = fn
}

func (b *fakeBroker) sentMessages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.sent...)
}

type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}
