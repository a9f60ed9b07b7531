// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/marktime/pkg/errutil"
)

func TestPostgres_List(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      []Record
		wantErr   string
		wantCode  string
	}{
		{
			name: "returns records in id order",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows([]string{"id", "plugin", "props"}).
					AddRow(int64(1), "marktime", []byte(`{}`)).
					AddRow(int64(4), "notes", []byte(`{"a":1}`))
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, plugin, props FROM prefs ORDER BY id`)).
					WillReturnRows(rows)
			},
			want: []Record{
				{ID: 1, Plugin: "marktime", Props: []byte(`{}`)},
				{ID: 4, Plugin: "notes", Props: []byte(`{"a":1}`)},
			},
		},
		{
			name: "missing table hints at migrate",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, plugin, props FROM prefs`)).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UndefinedTable, Message: `relation "prefs" does not exist`})
			},
			wantErr:  "does not exist",
			wantCode: "STORE_SCHEMA_MISSING",
		},
		{
			name: "connection error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, plugin, props FROM prefs`)).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.setupMock(mock)

			got, err := NewPostgres(mock).List(context.Background())

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				if tt.wantCode != "" {
					errutil.AssertErrorCode(t, err, tt.wantCode)
				}
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgres_Insert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO prefs (plugin, props) VALUES ($1, $2) RETURNING id`)).
		WithArgs("notes", []byte(`{}`)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := NewPostgres(mock).Insert(context.Background(), "notes", []byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Update(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{"updates existing record", 1, nil},
		{"missing record", 0, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectExec(regexp.QuoteMeta(`UPDATE prefs SET props = $1 WHERE id = $2`)).
				WithArgs([]byte(`{"a":2}`), int64(3)).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			err = NewPostgres(mock).Update(context.Background(), 3, []byte(`{"a":2}`))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgres_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM prefs WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, NewPostgres(mock).Delete(context.Background(), 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}
