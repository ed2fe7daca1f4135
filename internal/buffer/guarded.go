package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/speedwagon-io/helmet/internal/model"
)

// Guarded serializes access to a Buffer so that a replay running beside the
// polling loop can translate event ids to positions without an append or an
// eviction shifting them underneath it.
type Guarded struct {
	mu  sync.Mutex
	buf Buffer
}

func NewGuarded(buf Buffer) *Guarded {
	return &Guarded{buf: buf}
}

func (g *Guarded) Append(ctx context.Context, event model.StorageEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.Append(ctx, event)
}

func (g *Guarded) PruneByRetention(ctx context.Context, now time.Time) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.PruneByRetention(ctx, now)
}

func (g *Guarded) PruneByCapacity(ctx context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.PruneByCapacity(ctx)
}

func (g *Guarded) PendingReplay(ctx context.Context) ([]model.StorageEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.PendingReplay(ctx)
}

func (g *Guarded) MarkSynced(ctx context.Context, positions []int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.MarkSynced(ctx, positions)
}

// MarkSyncedByID marks the events with the given ids, resolving their
// current positions under the same lock. Ids no longer stored are skipped.
func (g *Guarded) MarkSyncedByID(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	events, err := g.buf.Events(ctx)
	if err != nil {
		return 0, err
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var positions []int
	for _, e := range events {
		if _, ok := wanted[e.ID]; ok {
			positions = append(positions, e.Position)
		}
	}

	if err := g.buf.MarkSynced(ctx, positions); err != nil {
		return 0, err
	}
	return len(positions), nil
}

func (g *Guarded) Events(ctx context.Context) ([]model.StorageEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.Events(ctx)
}

func (g *Guarded) Count(ctx context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.Count(ctx)
}

func (g *Guarded) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.Close()
}
