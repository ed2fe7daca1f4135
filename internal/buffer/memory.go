package buffer

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/speedwagon-io/helmet/internal/model"
)

// MemoryBuffer keeps events in a slice. It satisfies the same contract as
// SQLiteBuffer but loses its contents on restart.
type MemoryBuffer struct {
	log    *slog.Logger
	policy Policy
	now    func() time.Time

	mu     sync.Mutex
	events []model.StorageEvent
}

func NewMemoryBuffer(log *slog.Logger, policy Policy, opts ...Option) *MemoryBuffer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &MemoryBuffer{
		log:    log,
		policy: policy,
		now:    o.now,
	}
}

func (b *MemoryBuffer) Append(ctx context.Context, event model.StorageEvent) error {
	if err := validateKind(event.Kind); err != nil {
		return err
	}

	b.mu.Lock()
	event.Payload = maps.Clone(event.Payload)
	b.events = append(b.events, event)
	b.mu.Unlock()

	b.log.Debug("event stored in buffer",
		slog.String("id", event.ID),
		slog.String("event_type", string(event.Kind)),
	)

	if _, err := b.PruneByRetention(ctx, b.now()); err != nil {
		return err
	}
	_, err := b.PruneByCapacity(ctx)
	return err
}

func (b *MemoryBuffer) PruneByRetention(_ context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-b.policy.Retention)

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.events[:0]
	for _, e := range b.events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	deleted := int64(len(b.events) - len(kept))
	clear(b.events[len(kept):])
	b.events = kept

	if deleted > 0 {
		b.log.Info("pruned expired buffer entries", slog.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (b *MemoryBuffer) PruneByCapacity(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	overflow := len(b.events) - b.policy.maxItems()
	if overflow <= 0 {
		return 0, nil
	}

	b.events = append(b.events[:0:0], b.events[overflow:]...)

	b.log.Debug("evicted oldest buffer entries", slog.Int("deleted", overflow))
	return int64(overflow), nil
}

func (b *MemoryBuffer) PendingReplay(_ context.Context) ([]model.StorageEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var pending []model.StorageEvent
	for i, e := range b.events {
		if e.Synced {
			continue
		}
		e.Position = i
		e.Payload = maps.Clone(e.Payload)
		pending = append(pending, e)
	}
	return pending, nil
}

func (b *MemoryBuffer) MarkSynced(_ context.Context, positions []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range positions {
		if p >= 0 && p < len(b.events) {
			b.events[p].Synced = true
		}
	}
	return nil
}

func (b *MemoryBuffer) Events(_ context.Context) ([]model.StorageEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.StorageEvent, len(b.events))
	for i, e := range b.events {
		e.Position = i
		e.Payload = maps.Clone(e.Payload)
		out[i] = e
	}
	return out, nil
}

func (b *MemoryBuffer) Count(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.events)), nil
}

func (b *MemoryBuffer) Close() error {
	return nil
}
