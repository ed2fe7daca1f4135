package buffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speedwagon-io/helmet/internal/model"
)

// Buffer is the on-device event store. Every Append runs retention pruning
// and then capacity pruning, so the store never holds more than its policy
// allows. Positions used by MarkSynced refer to current insertion order.
type Buffer interface {
	Append(ctx context.Context, event model.StorageEvent) error
	PruneByRetention(ctx context.Context, now time.Time) (int64, error)
	PruneByCapacity(ctx context.Context) (int64, error)
	PendingReplay(ctx context.Context) ([]model.StorageEvent, error)
	MarkSynced(ctx context.Context, positions []int) error
	Events(ctx context.Context) ([]model.StorageEvent, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

var ErrInvalidKind = errors.New("unknown event kind")

func validateKind(kind model.EventKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return nil
}

type Policy struct {
	Retention time.Duration
	MaxItems  int
}

func (p Policy) maxItems() int {
	if p.MaxItems < 1 {
		return 1
	}
	return p.MaxItems
}

type Option func(*options)

type options struct {
	now    func() time.Time
	sealer *Sealer
}

func defaultOptions() options {
	return options{now: time.Now}
}

// WithClock overrides the wall clock used for retention pruning on Append.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSealer encrypts payloads at rest. Only the SQLite backend persists
// payloads, the memory backend ignores it.
func WithSealer(s *Sealer) Option {
	return func(o *options) {
		o.sealer = s
	}
}
