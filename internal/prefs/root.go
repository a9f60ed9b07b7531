// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package prefs implements the layered preference store.
//
// Every plugin owns one record: a tree of property and dictionary nodes
// persisted as a single JSON document by a store.RecordStore. Writes go
// through Dictionary handles and are coalesced by the Root, which flushes
// dirty records on an interval or once enough changes have accumulated.
package prefs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/marktime/internal/prefs/store"
	"github.com/holomush/marktime/pkg/errutil"
)

// Defaults for autosave batching.
const (
	DefaultAutosaveInterval = 5 * time.Second
	DefaultMaxChanges       = 50
)

// flushTimeout bounds a background flush.
const flushTimeout = 30 * time.Second

type record struct {
	id     int64
	plugin string
	tree   *Node
	dirty  bool
	dicts  map[AccessMode]*Dictionary
}

// Root owns every plugin's preference tree and its persistence.
type Root struct {
	store      store.RecordStore
	records    map[string]*record
	interval   time.Duration
	maxChanges int
	changes    int
	backoff    func() retry.Backoff
	logger     *slog.Logger

	mu      sync.Mutex
	flushMu sync.Mutex

	kick   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	loaded bool
	closed bool
}

// Option configures a Root.
type Option func(*Root)

// WithAutosaveInterval sets how often dirty records are flushed.
func WithAutosaveInterval(d time.Duration) Option {
	return func(r *Root) {
		r.interval = d
	}
}

// WithMaxChanges flushes early once n writes are pending.
func WithMaxChanges(n int) Option {
	return func(r *Root) {
		r.maxChanges = n
	}
}

// WithRetryBackoff sets the backoff used when a record update fails.
func WithRetryBackoff(b func() retry.Backoff) Option {
	return func(r *Root) {
		r.backoff = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Root) {
		r.logger = l
	}
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
}

// NewRoot creates a Root over s. Call Load before use. The caller keeps
// ownership of s.
func NewRoot(s store.RecordStore, opts ...Option) *Root {
	r := &Root{
		store:      s,
		records:    make(map[string]*record),
		interval:   DefaultAutosaveInterval,
		maxChanges: DefaultMaxChanges,
		backoff:    defaultBackoff,
		logger:     slog.Default(),
		kick:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "prefs")
	return r
}

// Load reads every record from the store and starts the autosave loop.
func (r *Root) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return oops.In("prefs").Wrap(ErrClosed)
	}
	if r.loaded {
		return oops.In("prefs").New("preferences already loaded")
	}

	records, err := r.store.List(ctx)
	if err != nil {
		return oops.In("prefs").With("operation", "load").Wrap(err)
	}
	for _, rec := range records {
		if _, dup := r.records[rec.Plugin]; dup {
			r.logger.Warn("ignoring duplicate preference record", "plugin", rec.Plugin, "id", rec.ID)
			continue
		}
		tree, err := decodeTree(rec.Plugin, rec.Props)
		if err != nil {
			return err
		}
		r.records[rec.Plugin] = &record{id: rec.ID, plugin: rec.Plugin, tree: tree, dicts: make(map[AccessMode]*Dictionary)}
	}
	r.loaded = true
	r.logger.Debug("preferences loaded", "records", len(r.records))

	if r.interval > 0 {
		r.stop = make(chan struct{})
		r.done = make(chan struct{})
		go r.autosave(r.stop, r.done)
	}
	return nil
}

// Dictionary returns the root dictionary of plugin's tree, creating the
// record on first use. Handles are cached per (plugin, mode).
func (r *Root) Dictionary(ctx context.Context, plugin string, mode AccessMode) (*Dictionary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.usable(); err != nil {
		return nil, err
	}
	if plugin == "" {
		return nil, oops.In("prefs").New("plugin name cannot be empty")
	}

	rec, ok := r.records[plugin]
	if !ok {
		tree := newDictionaryNode(plugin)
		props, err := encodeTree(tree)
		if err != nil {
			return nil, err
		}
		id, err := r.store.Insert(ctx, plugin, props)
		if err != nil {
			return nil, oops.In("prefs").With("plugin", plugin).With("operation", "create record").Wrap(err)
		}
		rec = &record{id: id, plugin: plugin, tree: tree, dicts: make(map[AccessMode]*Dictionary)}
		r.records[plugin] = rec
	}

	if d, ok := rec.dicts[mode]; ok {
		return d, nil
	}
	d := newDictionary(r, rec, rec.tree, plugin, mode)
	rec.dicts[mode] = d
	return d, nil
}

// Plugins returns the names of plugins that have a record, sorted.
func (r *Root) Plugins() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.records))
	for name := range r.records {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Remove deletes plugin's record. Outstanding handles become detached.
func (r *Root) Remove(ctx context.Context, plugin string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.usable(); err != nil {
		return err
	}
	rec, ok := r.records[plugin]
	if !ok {
		return nil
	}
	if err := r.store.Delete(ctx, rec.id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return oops.In("prefs").With("plugin", plugin).With("operation", "remove record").Wrap(err)
	}
	delete(r.records, plugin)
	return nil
}

// Pending returns the number of writes not yet flushed.
func (r *Root) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes
}

// Flush writes every dirty record. Failed updates are retried with
// backoff; records that still fail stay dirty for the next flush.
func (r *Root) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	type pendingWrite struct {
		rec   *record
		props []byte
	}

	r.mu.Lock()
	if !r.loaded {
		r.mu.Unlock()
		return oops.In("prefs").Wrap(ErrNotLoaded)
	}
	// A record that fails to encode stays dirty and does not hold back the
	// others.
	var writes []pendingWrite
	var errs []error
	for _, rec := range r.records {
		if !rec.dirty {
			continue
		}
		props, err := encodeTree(rec.tree)
		if err != nil {
			errs = append(errs, oops.In("prefs").With("plugin", rec.plugin).With("operation", "flush").Wrap(err))
			continue
		}
		rec.dirty = false
		writes = append(writes, pendingWrite{rec: rec, props: props})
	}
	r.changes = 0
	PendingChanges.Set(0)
	r.mu.Unlock()

	if len(writes) == 0 {
		if err := errors.Join(errs...); err != nil {
			RecordFlush(FlushError)
			return err
		}
		return nil
	}

	start := time.Now()
	for _, w := range writes {
		err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
			err := r.store.Update(ctx, w.rec.id, w.props)
			if err == nil || errors.Is(err, store.ErrNotFound) {
				return err
			}
			return retry.RetryableError(err)
		})
		if err != nil {
			r.mu.Lock()
			w.rec.dirty = true
			r.mu.Unlock()
			errs = append(errs, oops.In("prefs").With("plugin", w.rec.plugin).With("operation", "flush").Wrap(err))
		}
	}
	FlushDuration.Observe(time.Since(start).Seconds())

	if err := errors.Join(errs...); err != nil {
		RecordFlush(FlushError)
		return err
	}
	RecordFlush(FlushSuccess)
	r.logger.Debug("preferences flushed", "records", len(writes))
	return nil
}

// Close stops the autosave loop and performs a final flush.
func (r *Root) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	loaded := r.loaded
	stop, done := r.stop, r.done
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if !loaded {
		return nil
	}
	return r.Flush(ctx)
}

func (r *Root) usable() error {
	if r.closed {
		return oops.In("prefs").Wrap(ErrClosed)
	}
	if !r.loaded {
		return oops.In("prefs").Wrap(ErrNotLoaded)
	}
	return nil
}

// noteChange records a write against rec. Callers hold r.mu.
func (r *Root) noteChange(rec *record) {
	rec.dirty = true
	r.changes++
	PendingChanges.Set(float64(r.changes))
	if r.maxChanges > 0 && r.changes >= r.maxChanges {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

func (r *Root) autosave(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		case <-r.kick:
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := r.Flush(ctx); err != nil {
			errutil.LogError(r.logger, "autosave failed", err)
		}
		cancel()
	}
}
