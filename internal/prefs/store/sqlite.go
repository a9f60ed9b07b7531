// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"github.com/samber/oops"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS prefs (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	plugin TEXT NOT NULL,
	props  BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS prefs_plugin_idx ON prefs (plugin);
`

// SQLite is a RecordStore backed by a single SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, oops.In("store").Code("STORE_DSN_INVALID").Errorf("sqlite path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, oops.In("store").With("path", path).With("operation", "create directory").Wrap(err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.In("store").With("path", path).With("operation", "open sqlite").Wrap(err)
	}
	// One writer keeps SQLite from reporting SQLITE_BUSY under the autosave loop.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, oops.In("store").With("path", path).With("operation", "create schema").Wrap(err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// List returns every record ordered by id.
func (s *SQLite) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, plugin, props FROM prefs ORDER BY id`)
	if err != nil {
		return nil, oops.In("store").With("operation", "list records").Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Plugin, &r.Props); err != nil {
			return nil, oops.In("store").With("operation", "scan record").Wrap(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").With("operation", "iterate records").Wrap(err)
	}
	return out, nil
}

// Insert adds a record.
func (s *SQLite) Insert(ctx context.Context, plugin string, props []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO prefs (plugin, props) VALUES (?, ?)`, plugin, props)
	if err != nil {
		return 0, oops.In("store").With("operation", "insert record").With("plugin", plugin).Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, oops.In("store").With("operation", "insert record").With("plugin", plugin).Wrap(err)
	}
	return id, nil
}

// Update replaces a record's props.
func (s *SQLite) Update(ctx context.Context, id int64, props []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE prefs SET props = ? WHERE id = ?`, props, id)
	if err != nil {
		return oops.In("store").With("operation", "update record").With("id", id).Wrap(err)
	}
	return requireAffected(res, id)
}

// Delete removes a record.
func (s *SQLite) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prefs WHERE id = ?`, id)
	if err != nil {
		return oops.In("store").With("operation", "delete record").With("id", id).Wrap(err)
	}
	return requireAffected(res, id)
}

// Close closes the database.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.In("store").With("operation", "close sqlite").Wrap(err)
	}
	return nil
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return oops.In("store").With("id", id).Wrap(err)
	}
	if n == 0 {
		return oops.In("store").With("id", id).Wrap(ErrNotFound)
	}
	return nil
}
