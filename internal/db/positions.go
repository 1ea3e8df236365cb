package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/tags"
)

// TagState is the stored last known position of a tag.
type TagState struct {
	UID         string              `json:"uid"`
	Label       string              `json:"label"`
	Position    geometry.WorldPoint `json:"position"`
	Z           float64             `json:"z"`
	LastSeenMs  int64               `json:"last_seen_ms"`
	Hibernating bool                `json:"hibernating"`
}

// RecordPosition appends ev to the history and upserts the tag state. A
// state row only moves forward in time; an older event is still kept in the
// history.
func (db *DB) RecordPosition(ctx context.Context, ev tags.PositionEvent) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tag_history (uid, label, x, y, z, timestamp_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.EntityID, ev.Label, ev.Position.X, ev.Position.Y, ev.Z, ev.TimestampMs,
	); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tag_state (uid, label, x, y, z, last_seen_ms, hibernating)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(uid) DO UPDATE SET
			label = CASE WHEN excluded.label != '' THEN excluded.label ELSE tag_state.label END,
			x = excluded.x,
			y = excluded.y,
			z = excluded.z,
			last_seen_ms = excluded.last_seen_ms,
			hibernating = 0
		WHERE excluded.last_seen_ms >= tag_state.last_seen_ms`,
		ev.EntityID, ev.Label, ev.Position.X, ev.Position.Y, ev.Z, ev.TimestampMs,
	); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	return tx.Commit()
}

// MarkHibernating flags every tag not seen within timeout of nowMs and
// returns how many rows changed.
func (db *DB) MarkHibernating(ctx context.Context, nowMs int64, timeout time.Duration) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE tag_state SET hibernating = 1 WHERE hibernating = 0 AND last_seen_ms < ?`,
		nowMs-timeout.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("mark hibernating: %w", err)
	}
	return res.RowsAffected()
}

// TagStates returns every stored tag state ordered by uid.
func (db *DB) TagStates(ctx context.Context) ([]TagState, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT uid, label, x, y, z, last_seen_ms, hibernating FROM tag_state ORDER BY uid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TagState
	for rows.Next() {
		var s TagState
		if err := rows.Scan(&s.UID, &s.Label, &s.Position.X, &s.Position.Y, &s.Z, &s.LastSeenMs, &s.Hibernating); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// HistoryRange returns the events inside r, bounds included, in ascending
// timestamp order. Events sharing a timestamp keep insertion order.
func (db *DB) HistoryRange(ctx context.Context, r tags.TimeRange) ([]tags.PositionEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT uid, label, x, y, z, timestamp_ms
		FROM tag_history
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, id ASC`,
		r.Start, r.End,
	)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", r, err)
	}
	defer rows.Close()

	var out []tags.PositionEvent
	for rows.Next() {
		var ev tags.PositionEvent
		if err := rows.Scan(&ev.EntityID, &ev.Label, &ev.Position.X, &ev.Position.Y, &ev.Z, &ev.TimestampMs); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// FetchHistory serves the playback view. An invalid range yields no events.
func (db *DB) FetchHistory(ctx context.Context, r tags.TimeRange) ([]tags.PositionEvent, error) {
	if !r.Valid() {
		return nil, nil
	}
	return db.HistoryRange(ctx, r)
}

// HistoryBounds returns the earliest and latest recorded timestamps. ok is
// false when the history is empty.
func (db *DB) HistoryBounds(ctx context.Context) (r tags.TimeRange, ok bool, err error) {
	var lo, hi *int64
	if err := db.QueryRowContext(ctx,
		`SELECT MIN(timestamp_ms), MAX(timestamp_ms) FROM tag_history`,
	).Scan(&lo, &hi); err != nil {
		return tags.TimeRange{}, false, err
	}
	if lo == nil || hi == nil {
		return tags.TimeRange{}, false, nil
	}
	return tags.TimeRange{Start: *lo, End: *hi}, true, nil
}
