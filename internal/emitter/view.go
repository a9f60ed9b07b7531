// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emitter

import (
	"context"
	"sync"
	"sync/atomic"
)

// View is a per-consumer façade over a shared Emitter.
//
// Every listener added through a View is mirrored onto the shared Emitter, so
// all views observe every emission. A View only lists and removes the
// listeners it added itself; listeners added through another View are
// invisible to it. View deliberately has no Emit method.
type View struct {
	emitter *Emitter
	own     map[string][]*Listener
	mu      sync.Mutex
}

// NewView creates a View over e.
func NewView(e *Emitter) *View {
	return &View{
		emitter: e,
		own:     make(map[string][]*Listener),
	}
}

// On registers handler for event on the shared emitter.
func (v *View) On(event string, handler Handler) *Listener {
	l := &Listener{event: event, handler: handler}
	v.track(l)
	return l
}

// AddListener is an alias for On.
func (v *View) AddListener(event string, handler Handler) *Listener {
	return v.On(event, handler)
}

// Once registers handler to run for the first emission of event only. The
// listener removes itself through this View before the handler runs; a second
// invocation racing the removal is ignored and yields a nil result.
func (v *View) Once(event string, handler Handler) *Listener {
	var fired atomic.Bool
	l := &Listener{event: event, original: handler}
	l.handler = func(ctx context.Context, self any, args ...any) (any, error) {
		v.RemoveListener(l)
		if !fired.CompareAndSwap(false, true) {
			return nil, nil
		}
		return handler(ctx, self, args...)
	}
	v.track(l)
	return l
}

func (v *View) track(l *Listener) {
	v.mu.Lock()
	v.own[l.event] = append(v.own[l.event], l)
	v.mu.Unlock()
	v.emitter.add(l)
}

// RemoveListener removes l if, and only if, it was added through this View.
func (v *View) RemoveListener(l *Listener) bool {
	if l == nil {
		return false
	}

	v.mu.Lock()
	list := v.own[l.event]
	idx := -1
	for i, candidate := range list {
		if candidate == l {
			idx = i
			break
		}
	}
	if idx == -1 {
		v.mu.Unlock()
		return false
	}
	v.own[l.event] = append(list[:idx:idx], list[idx+1:]...)
	v.mu.Unlock()

	v.emitter.RemoveListener(l)
	return true
}

// RemoveAllListeners removes every listener this View added for event.
// Listeners added through other views are left in place.
func (v *View) RemoveAllListeners(event string) {
	v.mu.Lock()
	list := v.own[event]
	delete(v.own, event)
	v.mu.Unlock()

	for _, l := range list {
		v.emitter.RemoveListener(l)
	}
}

// Listeners returns a copy of the listeners this View added for event.
func (v *View) Listeners(event string) []*Listener {
	v.mu.Lock()
	defer v.mu.Unlock()

	list := v.own[event]
	out := make([]*Listener, len(list))
	copy(out, list)
	return out
}
