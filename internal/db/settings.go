package db

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// TagName is a row of the name mapping table.
type TagName struct {
	UID     string `json:"uid" yaml:"uid"`
	Name    string `json:"name" yaml:"name"`
	Species string `json:"species,omitempty" yaml:"species,omitempty"`
	Color   string `json:"color,omitempty" yaml:"color,omitempty"`
}

// SaveSetting stores one named setting value.
func (db *DB) SaveSetting(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_ms) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_ms = excluded.updated_ms`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

// SaveSettings stores values in one transaction, in key order. Either all
// of them are saved or none are.
func (db *DB) SaveSettings(ctx context.Context, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_ms) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_ms = excluded.updated_ms`,
			k, values[k], now,
		); err != nil {
			return fmt.Errorf("save setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// LoadSettings returns every stored setting.
func (db *DB) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SaveName maps uid to a display name, keeping any roster details.
func (db *DB) SaveName(ctx context.Context, uid, name string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tag_names (uid, name) VALUES (?, ?)
		ON CONFLICT(uid) DO UPDATE SET name = excluded.name`,
		uid, name,
	)
	if err != nil {
		return fmt.Errorf("save name %s: %w", uid, err)
	}
	return nil
}

// UpsertTagName stores a full roster entry.
func (db *DB) UpsertTagName(ctx context.Context, n TagName) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tag_names (uid, name, species, color) VALUES (?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			name = excluded.name, species = excluded.species, color = excluded.color`,
		n.UID, n.Name, n.Species, n.Color,
	)
	if err != nil {
		return fmt.Errorf("upsert tag name %s: %w", n.UID, err)
	}
	return nil
}

// DeleteName removes the mapping for uid.
func (db *DB) DeleteName(ctx context.Context, uid string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM tag_names WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("delete name %s: %w", uid, err)
	}
	return nil
}

// LoadNames returns the uid to name mapping.
func (db *DB) LoadNames(ctx context.Context) (map[string]string, error) {
	names, err := db.TagNames(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n.UID] = n.Name
	}
	return out, nil
}

// TagNames returns the full name table ordered by uid.
func (db *DB) TagNames(ctx context.Context) ([]TagName, error) {
	rows, err := db.QueryContext(ctx, `SELECT uid, name, species, color FROM tag_names ORDER BY uid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TagName
	for rows.Next() {
		var n TagName
		if err := rows.Scan(&n.UID, &n.Name, &n.Species, &n.Color); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
