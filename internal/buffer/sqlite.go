package buffer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
	"github.com/speedwagon-io/helmet/internal/model"
)

// SQLiteBuffer persists events in a single append-only table. Row id order is
// insertion order.
type SQLiteBuffer struct {
	log    *slog.Logger
	db     *sql.DB
	policy Policy
	now    func() time.Time
	sealer *Sealer

	undecodable atomic.Int64
}

func NewSQLiteBuffer(log *slog.Logger, dbPath string, policy Policy, opts ...Option) (*SQLiteBuffer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create buffer directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	buf := &SQLiteBuffer{
		log:    log,
		db:     db,
		policy: policy,
		now:    o.now,
		sealer: o.sealer,
	}

	if err := buf.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return buf, nil
}

func (b *SQLiteBuffer) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uid TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			timestamp REAL NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_events_synced ON events(synced);
		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	`
	_, err := b.db.Exec(query)
	return err
}

func (b *SQLiteBuffer) Append(ctx context.Context, event model.StorageEvent) error {
	if err := validateKind(event.Kind); err != nil {
		return err
	}

	payload, err := b.encodePayload(event.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (uid, event_type, payload, timestamp, synced)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = b.db.ExecContext(ctx, query,
		event.ID,
		string(event.Kind),
		payload,
		model.EpochSeconds(event.Timestamp),
		boolToInt(event.Synced),
	)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}

	b.log.Debug("event stored in buffer",
		slog.String("id", event.ID),
		slog.String("event_type", string(event.Kind)),
	)

	if _, err := b.PruneByRetention(ctx, b.now()); err != nil {
		return err
	}
	_, err = b.PruneByCapacity(ctx)
	return err
}

func (b *SQLiteBuffer) PruneByRetention(ctx context.Context, now time.Time) (int64, error) {
	cutoff := model.EpochSeconds(now.Add(-b.policy.Retention))

	result, err := b.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired events: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		b.log.Info("pruned expired buffer entries", slog.Int64("deleted", deleted))
	}

	return deleted, nil
}

func (b *SQLiteBuffer) PruneByCapacity(ctx context.Context) (int64, error) {
	total, err := b.Count(ctx)
	if err != nil {
		return 0, err
	}

	overflow := total - int64(b.policy.maxItems())
	if overflow <= 0 {
		return 0, nil
	}

	result, err := b.db.ExecContext(ctx,
		"DELETE FROM events WHERE id IN (SELECT id FROM events ORDER BY id ASC LIMIT ?)",
		overflow,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to evict oldest events: %w", err)
	}

	deleted, _ := result.RowsAffected()
	b.log.Debug("evicted oldest buffer entries", slog.Int64("deleted", deleted))
	return deleted, nil
}

func (b *SQLiteBuffer) PendingReplay(ctx context.Context) ([]model.StorageEvent, error) {
	return b.query(ctx, true)
}

func (b *SQLiteBuffer) Events(ctx context.Context) ([]model.StorageEvent, error) {
	return b.query(ctx, false)
}

func (b *SQLiteBuffer) query(ctx context.Context, unsyncedOnly bool) ([]model.StorageEvent, error) {
	query := `
		SELECT uid, event_type, payload, timestamp, synced, pos FROM (
			SELECT id, uid, event_type, payload, timestamp, synced,
				ROW_NUMBER() OVER (ORDER BY id ASC) - 1 AS pos
			FROM events
		)
	`
	if unsyncedOnly {
		query += " WHERE synced = 0"
	}
	query += " ORDER BY id ASC"

	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var (
		events  []model.StorageEvent
		skipped int64
	)
	for rows.Next() {
		var (
			uid, kind, payload string
			timestamp          float64
			synced, pos        int
		)

		if err := rows.Scan(&uid, &kind, &payload, &timestamp, &synced, &pos); err != nil {
			b.log.Error("failed to scan row", sl.Err(err))
			skipped++
			continue
		}

		decoded, err := b.decodePayload(payload)
		if err != nil {
			b.log.Error("failed to decode payload", slog.String("id", uid), sl.Err(err))
			skipped++
			continue
		}

		events = append(events, model.StorageEvent{
			ID:        uid,
			Kind:      model.EventKind(kind),
			Payload:   decoded,
			Timestamp: model.FromEpochSeconds(timestamp),
			Synced:    synced != 0,
			Position:  pos,
		})
	}

	b.undecodable.Store(skipped)

	return events, rows.Err()
}

// Undecodable reports how many rows the last read had to skip, for example
// sealed payloads written under a different key. Skipped rows are never
// replayed and stay until retention or capacity pruning removes them.
func (b *SQLiteBuffer) Undecodable() int64 {
	return b.undecodable.Load()
}

func (b *SQLiteBuffer) MarkSynced(ctx context.Context, positions []int) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT id FROM events ORDER BY id ASC")
	if err != nil {
		return fmt.Errorf("failed to list event ids: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list event ids: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "UPDATE events SET synced = 1 WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	marked := 0
	for _, p := range positions {
		if p < 0 || p >= len(ids) {
			continue
		}
		if _, err := stmt.ExecContext(ctx, ids[p]); err != nil {
			return fmt.Errorf("failed to mark event %d synced: %w", ids[p], err)
		}
		marked++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	b.log.Debug("marked events as synced", slog.Int("count", marked))
	return nil
}

func (b *SQLiteBuffer) Count(ctx context.Context) (int64, error) {
	var count int64
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

func (b *SQLiteBuffer) Close() error {
	return b.db.Close()
}

func (b *SQLiteBuffer) encodePayload(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	if b.sealer == nil {
		return string(data), nil
	}
	return b.sealer.Seal(data)
}

func (b *SQLiteBuffer) decodePayload(stored string) (map[string]any, error) {
	data := []byte(stored)
	if IsSealed(stored) {
		if b.sealer == nil {
			return nil, fmt.Errorf("%w: no key configured", ErrSealedPayload)
		}
		var err error
		if data, err = b.sealer.Open(stored); err != nil {
			return nil, err
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
