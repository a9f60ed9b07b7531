// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store persists preference records.
//
// A record holds one plugin's preference tree as an opaque JSON document.
// Records are keyed by an auto-incrementing id; the plugin column is indexed
// but not unique.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// Record is the persisted unit: one plugin's preference tree.
type Record struct {
	ID     int64
	Plugin string
	Props  []byte
}

// RecordStore is a backing store for preference records.
type RecordStore interface {
	// List returns every record ordered by id.
	List(ctx context.Context) ([]Record, error)
	// Insert adds a record and returns its id.
	Insert(ctx context.Context, plugin string, props []byte) (int64, error)
	// Update replaces the props of record id.
	Update(ctx context.Context, id int64, props []byte) error
	// Delete removes record id.
	Delete(ctx context.Context, id int64) error
	Close() error
}

// Open opens the store named by dsn:
//
//   - memory://                      volatile in-process store
//   - sqlite://<path>                SQLite database file
//   - postgres://... postgresql://   PostgreSQL (schema managed by Migrator)
func Open(ctx context.Context, dsn string) (RecordStore, error) {
	switch {
	case dsn == "memory://" || dsn == "memory":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	default:
		return nil, oops.In("store").Code("STORE_DSN_INVALID").
			With("dsn", redact(dsn)).
			Hint("use memory://, sqlite://<path> or postgres://...").
			Errorf("unsupported store dsn")
	}
}

// redact hides credentials in a dsn for logs and errors.
func redact(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return dsn
}
