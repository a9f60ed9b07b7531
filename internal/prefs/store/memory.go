// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/oops"
)

// Memory is a volatile RecordStore for tests and throwaway hosts.
type Memory struct {
	records map[int64]Record
	nextID  int64
	mu      sync.Mutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[int64]Record)}
}

// List returns copies of every record ordered by id.
func (m *Memory) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		r.Props = append([]byte(nil), r.Props...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Insert adds a record.
func (m *Memory) Insert(_ context.Context, plugin string, props []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.records[m.nextID] = Record{ID: m.nextID, Plugin: plugin, Props: append([]byte(nil), props...)}
	return m.nextID, nil
}

// Update replaces a record's props.
func (m *Memory) Update(_ context.Context, id int64, props []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return oops.In("store").With("id", id).Wrap(ErrNotFound)
	}
	r.Props = append([]byte(nil), props...)
	m.records[id] = r
	return nil
}

// Delete removes a record.
func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return oops.In("store").With("id", id).Wrap(ErrNotFound)
	}
	delete(m.records, id)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
