// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package emitter provides the event dispatch primitives used by plugin
// capabilities.
//
// Unlike a conventional event bus, an Emitter invokes its listeners with an
// explicit calling context (self) chosen per emission and collects every
// listener's return value. Callers use the collected results to gather
// possibly-asynchronous work from independent handlers and wait on all of it
// (see Settle).
//
// Listeners are normally registered through a View, which lets several
// consumers share one Emitter while only ever seeing and removing the
// listeners they added themselves.
package emitter

import (
	"context"
	"sync"
)

// Handler is a listener callback. self is the calling context chosen by the
// emitter's caller; args are the emission parameters.
type Handler func(ctx context.Context, self any, args ...any) (any, error)

// Result is the outcome of a single listener invocation.
type Result struct {
	Value any
	Err   error
}

// Listener is a registered handler. Listeners are compared by identity, so
// the pointer returned on registration is the handle used for removal.
type Listener struct {
	event   string
	handler Handler
	// original is the user handler for once-wrappers; nil otherwise.
	original Handler
}

// Event returns the event name the listener is registered for.
func (l *Listener) Event() string {
	return l.event
}

// Once reports whether the listener deregisters itself after its first call.
func (l *Listener) Once() bool {
	return l.original != nil
}

// Emitter is a multi-listener event dispatcher.
//
// Emitter is safe for concurrent registration. Emit snapshots the listener
// list before invoking handlers, so handlers may add or remove listeners
// (including themselves) while an emission is in progress.
type Emitter struct {
	listeners map[string][]*Listener
	mu        sync.RWMutex
}

// New creates an empty Emitter.
func New() *Emitter {
	return &Emitter{listeners: make(map[string][]*Listener)}
}

// On registers handler for event and returns its listener handle.
func (e *Emitter) On(event string, handler Handler) *Listener {
	l := &Listener{event: event, handler: handler}
	e.add(l)
	return l
}

func (e *Emitter) add(l *Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[string][]*Listener)
	}
	e.listeners[l.event] = append(e.listeners[l.event], l)
}

// RemoveListener removes l. Returns false if l is not registered.
func (e *Emitter) RemoveListener(l *Listener) bool {
	if l == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.listeners[l.event]
	for i, candidate := range list {
		if candidate == l {
			// Copy so in-flight snapshots are not disturbed.
			next := make([]*Listener, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(e.listeners, l.event)
			} else {
				e.listeners[l.event] = next
			}
			return true
		}
	}
	return false
}

// ListenerCount returns the number of listeners registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}

// Emit synchronously invokes every listener registered for event, in
// registration order, with self as the calling context. It returns one
// Result per invoked listener; the slice is empty when nothing is registered.
func (e *Emitter) Emit(ctx context.Context, self any, event string, args ...any) []Result {
	e.mu.RLock()
	snapshot := e.listeners[event]
	e.mu.RUnlock()

	results := make([]Result, 0, len(snapshot))
	for _, l := range snapshot {
		v, err := l.handler(ctx, self, args...)
		results = append(results, Result{Value: v, Err: err})
	}
	return results
}
