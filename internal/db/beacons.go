package db

import (
	"context"
	"fmt"

	"github.com/banshee-data/tagtrack/internal/tags"
)

// ReplaceBeacons stores bs as the complete beacon set.
func (db *DB) ReplaceBeacons(ctx context.Context, bs []tags.Beacon) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM beacons`); err != nil {
		return fmt.Errorf("clear beacons: %w", err)
	}
	for _, b := range bs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO beacons (id, label, x, y, z) VALUES (?, ?, ?, ?, ?)`,
			b.ID, b.Label, b.Coordinate.X, b.Coordinate.Y, b.Z,
		); err != nil {
			return fmt.Errorf("insert beacon %s: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

// Beacons returns the stored beacons ordered by id.
func (db *DB) Beacons(ctx context.Context) ([]tags.Beacon, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, label, x, y, z FROM beacons ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tags.Beacon
	for rows.Next() {
		var b tags.Beacon
		if err := rows.Scan(&b.ID, &b.Label, &b.Coordinate.X, &b.Coordinate.Y, &b.Z); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// FetchBeacons serves the view's beacon overlay.
func (db *DB) FetchBeacons(ctx context.Context) ([]tags.Beacon, error) {
	return db.Beacons(ctx)
}
