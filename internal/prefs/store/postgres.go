// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// poolIface is the subset of *pgxpool.Pool the store uses, so tests can
// substitute pgxmock.
type poolIface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres is a RecordStore backed by PostgreSQL. The schema is created by
// Migrator, not by the store.
type Postgres struct {
	pool poolIface
}

// OpenPostgres connects to dsn.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.In("store").With("dsn", redact(dsn)).With("operation", "connect").Wrap(err)
	}
	return NewPostgres(pool), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool poolIface) *Postgres {
	return &Postgres{pool: pool}
}

// List returns every record ordered by id.
func (p *Postgres) List(ctx context.Context) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, plugin, props FROM prefs ORDER BY id`)
	if err != nil {
		return nil, wrapPgError(err, "list records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Plugin, &r.Props); err != nil {
			return nil, oops.In("store").With("operation", "scan record").Wrap(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError(err, "iterate records")
	}
	return out, nil
}

// Insert adds a record.
func (p *Postgres) Insert(ctx context.Context, plugin string, props []byte) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO prefs (plugin, props) VALUES ($1, $2) RETURNING id`,
		plugin, props).Scan(&id)
	if err != nil {
		return 0, wrapPgError(err, "insert record")
	}
	return id, nil
}

// Update replaces a record's props.
func (p *Postgres) Update(ctx context.Context, id int64, props []byte) error {
	tag, err := p.pool.Exec(ctx, `UPDATE prefs SET props = $1 WHERE id = $2`, props, id)
	if err != nil {
		return wrapPgError(err, "update record")
	}
	if tag.RowsAffected() == 0 {
		return oops.In("store").With("id", id).Wrap(ErrNotFound)
	}
	return nil
}

// Delete removes a record.
func (p *Postgres) Delete(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM prefs WHERE id = $1`, id)
	if err != nil {
		return wrapPgError(err, "delete record")
	}
	if tag.RowsAffected() == 0 {
		return oops.In("store").With("id", id).Wrap(ErrNotFound)
	}
	return nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func wrapPgError(err error, operation string) error {
	builder := oops.In("store").With("operation", operation)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		builder = builder.Code("STORE_SCHEMA_MISSING").Hint("run `marktime migrate up` to create the prefs table")
	}
	return builder.Wrap(err)
}
