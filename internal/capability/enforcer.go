// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package capability

import (
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// AllowAll is the grant given to plugins whose manifest lists no permissions.
const AllowAll = "**"

// Target returns the grant subject for a provider's capability, for example
// "marktime.preferences".
func Target(provider, name string) string {
	return Normalize(provider) + "." + Normalize(name)
}

type grant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer decides which capabilities each consumer may request.
//
// Grants are glob patterns over Target strings compiled with '.' as the
// separator: "*" matches one segment and "**" any number of segments, so
// "storage.*" allows every capability of the storage plugin and "**" allows
// everything.
//
// Enforcer is safe for concurrent use. The zero value denies everything.
type Enforcer struct {
	grants map[string][]grant
	mu     sync.RWMutex
}

// NewEnforcer creates an enforcer with no grants.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]grant)}
}

// SetGrants replaces consumer's grants. On error nothing changes.
func (e *Enforcer) SetGrants(consumer string, patterns []string) error {
	if consumer == "" {
		return oops.In("capability").New("consumer name cannot be empty")
	}

	compiled := make([]grant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return oops.In("capability").With("consumer", consumer).With("index", i).New("empty grant pattern")
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return oops.In("capability").With("consumer", consumer).With("pattern", pattern).Wrap(err)
		}
		compiled[i] = grant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]grant)
	}
	e.grants[consumer] = compiled
	return nil
}

// RemoveGrants forgets consumer.
func (e *Enforcer) RemoveGrants(consumer string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, consumer)
}

// Grants returns a copy of consumer's patterns, or nil if it has none.
func (e *Enforcer) Grants(consumer string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	list, ok := e.grants[consumer]
	if !ok {
		return nil
	}
	out := make([]string, len(list))
	for i, g := range list {
		out[i] = g.pattern
	}
	return out
}

// Consumers returns every consumer with grants, sorted.
func (e *Enforcer) Consumers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.grants))
	for name := range e.grants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Check reports whether consumer may use provider's capability. Unknown
// consumers are denied.
func (e *Enforcer) Check(consumer, provider, name string) bool {
	target := Target(provider, name)

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, g := range e.grants[consumer] {
		if g.glob.Match(target) {
			return true
		}
	}
	return false
}

// Authorize is Check returning ErrCapabilityDenied on refusal.
func (e *Enforcer) Authorize(consumer, provider, name string) error {
	if e.Check(consumer, provider, name) {
		return nil
	}
	RecordRequest(Normalize(provider), Normalize(name), ResultDenied)
	return Denied(consumer, provider, name)
}
